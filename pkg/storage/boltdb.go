package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/agentctl/pkg/apierrors"
	"github.com/cuemby/agentctl/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketAgents        = []byte("agents")
	bucketAgentVersions = []byte("agent_versions")
	bucketDeployments   = []byte("deployments")
	bucketNodes         = []byte("nodes")
	bucketRuns          = []byte("runs")
)

// BoltStore implements Store on an embedded, single-writer bbolt database.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the control plane's bbolt database
// under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "agentctl.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketAgents,
			bucketAgentVersions,
			bucketDeployments,
			bucketNodes,
			bucketRuns,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Agents ---

func (s *BoltStore) CreateAgent(agent *types.Agent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		data, err := json.Marshal(agent)
		if err != nil {
			return apierrors.Wrap(apierrors.KindTransient, err, "marshal agent")
		}
		return b.Put([]byte(agent.ID), data)
	})
}

func (s *BoltStore) GetAgent(id string) (*types.Agent, error) {
	var agent types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		data := b.Get([]byte(id))
		if data == nil {
			return apierrors.NotFound("agent %s not found", id)
		}
		return json.Unmarshal(data, &agent)
	})
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *BoltStore) ListAgents() ([]*types.Agent, error) {
	var agents []*types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		return b.ForEach(func(k, v []byte) error {
			var agent types.Agent
			if err := json.Unmarshal(v, &agent); err != nil {
				return err
			}
			agents = append(agents, &agent)
			return nil
		})
	})
	return agents, err
}

func (s *BoltStore) UpdateAgent(agent *types.Agent) error {
	return s.CreateAgent(agent)
}

// DeleteAgent removes the agent and cascades to its versions and deployments,
// the only cross-entity write the storage contract requires.
func (s *BoltStore) DeleteAgent(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		agents := tx.Bucket(bucketAgents)
		if agents.Get([]byte(id)) == nil {
			return apierrors.NotFound("agent %s not found", id)
		}
		if err := agents.Delete([]byte(id)); err != nil {
			return err
		}

		versions := tx.Bucket(bucketAgentVersions)
		if err := deleteByPrefix(versions, versionKeyPrefix(id)); err != nil {
			return err
		}

		deployments := tx.Bucket(bucketDeployments)
		return deployments.ForEach(func(k, v []byte) error {
			var d types.Deployment
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.AgentID == id {
				return deployments.Delete(k)
			}
			return nil
		})
	})
}

func deleteByPrefix(b *bolt.Bucket, prefix []byte) error {
	c := b.Cursor()
	var toDelete [][]byte
	for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
		key := make([]byte, len(k))
		copy(key, k)
		toDelete = append(toDelete, key)
	}
	for _, k := range toDelete {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// --- Agent versions ---

func versionKeyPrefix(agentID string) []byte {
	return []byte(agentID + "\x00")
}

func versionKey(agentID, version string) []byte {
	return []byte(agentID + "\x00" + version)
}

func (s *BoltStore) CreateAgentVersion(v *types.AgentVersion) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgentVersions)
		data, err := json.Marshal(v)
		if err != nil {
			return apierrors.Wrap(apierrors.KindTransient, err, "marshal agent version")
		}
		return b.Put(versionKey(v.AgentID, v.Version), data)
	})
}

func (s *BoltStore) GetAgentVersion(agentID, version string) (*types.AgentVersion, error) {
	var v types.AgentVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgentVersions)
		data := b.Get(versionKey(agentID, version))
		if data == nil {
			return apierrors.NotFound("version %s/%s not found", agentID, version)
		}
		return json.Unmarshal(data, &v)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *BoltStore) ListAgentVersions(agentID string) ([]*types.AgentVersion, error) {
	var versions []*types.AgentVersion
	prefix := versionKeyPrefix(agentID)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgentVersions)
		c := b.Cursor()
		for k, val := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, val = c.Next() {
			var v types.AgentVersion
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			versions = append(versions, &v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].CreatedAt.After(versions[j].CreatedAt)
	})
	return versions, nil
}

// --- Deployments ---

func (s *BoltStore) CreateDeployment(d *types.Deployment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data, err := json.Marshal(d)
		if err != nil {
			return apierrors.Wrap(apierrors.KindTransient, err, "marshal deployment")
		}
		return b.Put([]byte(d.ID), data)
	})
}

func (s *BoltStore) GetDeployment(id string) (*types.Deployment, error) {
	var d types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data := b.Get([]byte(id))
		if data == nil {
			return apierrors.NotFound("deployment %s not found", id)
		}
		return json.Unmarshal(data, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *BoltStore) ListDeployments() ([]*types.Deployment, error) {
	var deployments []*types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		return b.ForEach(func(k, v []byte) error {
			var d types.Deployment
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			deployments = append(deployments, &d)
			return nil
		})
	})
	return deployments, err
}

func (s *BoltStore) ListDeploymentsByAgent(agentID string) ([]*types.Deployment, error) {
	all, err := s.ListDeployments()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Deployment
	for _, d := range all {
		if d.AgentID == agentID {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateDeployment(d *types.Deployment) error {
	return s.CreateDeployment(d)
}

func (s *BoltStore) DeleteDeployment(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		if b.Get([]byte(id)) == nil {
			return apierrors.NotFound("deployment %s not found", id)
		}
		return b.Delete([]byte(id))
	})
}

// --- Nodes ---

func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data, err := json.Marshal(node)
		if err != nil {
			return apierrors.Wrap(apierrors.KindTransient, err, "marshal node")
		}
		return b.Put([]byte(node.ID), data)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data := b.Get([]byte(id))
		if data == nil {
			return apierrors.NotFound("node %s not found", id)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) UpdateNode(node *types.Node) error {
	return s.CreateNode(node)
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.Delete([]byte(id))
	})
}

// --- Runs ---

func (s *BoltStore) CreateRun(run *types.Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data, err := json.Marshal(run)
		if err != nil {
			return apierrors.Wrap(apierrors.KindTransient, err, "marshal run")
		}
		return b.Put([]byte(run.ID), data)
	})
}

func (s *BoltStore) GetRun(id string) (*types.Run, error) {
	var run types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data := b.Get([]byte(id))
		if data == nil {
			return apierrors.NotFound("run %s not found", id)
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *BoltStore) ListRuns() ([]*types.Run, error) {
	var runs []*types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.ForEach(func(k, v []byte) error {
			var run types.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			runs = append(runs, &run)
			return nil
		})
	})
	return runs, err
}

func (s *BoltStore) UpdateRun(run *types.Run) error {
	return s.CreateRun(run)
}

func (s *BoltStore) DeleteRun(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) CompleteRun(runID string, timings types.RunTimings, costs types.RunCosts) error {
	return s.transitionRun(runID, func(run *types.Run) {
		run.Status = types.RunCompleted
		run.Timings = timings
		run.Costs = costs
	})
}

func (s *BoltStore) FailRun(runID string, errInfo types.RunError, timings types.RunTimings) error {
	return s.transitionRun(runID, func(run *types.Run) {
		run.Status = types.RunFailed
		run.Error = errInfo
		run.Timings = timings
	})
}

func (s *BoltStore) CancelRun(runID, reason string) error {
	return s.transitionRun(runID, func(run *types.Run) {
		run.Status = types.RunCancelled
		run.Error = types.RunError{Reason: reason}
	})
}

// transitionRun is a no-op returning NotFound when the run is absent;
// otherwise it applies mutate and stamps terminal-at, matching the
// CompleteRun/FailRun/CancelRun contract.
func (s *BoltStore) transitionRun(runID string, mutate func(*types.Run)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data := b.Get([]byte(runID))
		if data == nil {
			return apierrors.NotFound("run %s not found", runID)
		}
		var run types.Run
		if err := json.Unmarshal(data, &run); err != nil {
			return err
		}
		mutate(&run)
		now := time.Now().UTC()
		run.TerminalAt = &now
		out, err := json.Marshal(&run)
		if err != nil {
			return apierrors.Wrap(apierrors.KindTransient, err, "marshal run")
		}
		return b.Put([]byte(runID), out)
	})
}
