package metrics

import (
	"time"

	"github.com/cuemby/agentctl/pkg/storage"
	"github.com/cuemby/agentctl/pkg/types"
)

// Collector periodically samples control-plane entity counts into gauges.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over store.
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectAgentMetrics()
	c.collectDeploymentMetrics()
	c.collectNodeMetrics()
	c.collectRunMetrics()
}

func (c *Collector) collectAgentMetrics() {
	agents, err := c.store.ListAgents()
	if err != nil {
		return
	}
	AgentsTotal.Set(float64(len(agents)))
}

func (c *Collector) collectDeploymentMetrics() {
	deployments, err := c.store.ListDeployments()
	if err != nil {
		return
	}

	counts := make(map[types.DeploymentStatusState]int)
	for _, d := range deployments {
		counts[d.Status.State]++
	}
	for state, count := range counts {
		DeploymentsTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}

func (c *Collector) collectNodeMetrics() {
	nodes, err := c.store.ListNodes()
	if err != nil {
		return
	}

	counts := make(map[types.NodeStatusState]int)
	for _, n := range nodes {
		counts[n.Status.State]++
	}
	for state, count := range counts {
		NodesTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}

func (c *Collector) collectRunMetrics() {
	runs, err := c.store.ListRuns()
	if err != nil {
		return
	}

	counts := make(map[types.RunStatus]int)
	for _, r := range runs {
		counts[r.Status]++
	}
	for status, count := range counts {
		RunsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
