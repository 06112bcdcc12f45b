package stores

import (
	"context"

	"github.com/mrakit/mrakit/pkg/mra"
)

// TreeRecord is one persisted tree snapshot: its configuration and
// the serialized nodes of a single rank's shard. Multi-rank snapshots
// store one record per rank under the same name.
type TreeRecord struct {
	Name  string
	Rank  int
	Meta  mra.TreeMeta
	Nodes []NodePair
}

// NodePair is one serialized (key, node) entry.
type NodePair struct {
	Key  []byte
	Node []byte
}

// Store persists tree snapshots.
type Store interface {
	// Init opens the backing database and applies pragmas.
	Init(ctx context.Context) error

	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error

	// SaveTree stores a snapshot, replacing any previous record with
	// the same (name, rank).
	SaveTree(ctx context.Context, rec *TreeRecord) error

	// LoadTree retrieves the snapshot for (name, rank).
	LoadTree(ctx context.Context, name string, rank int) (*TreeRecord, error)

	// ListTrees returns the stored snapshot names.
	ListTrees(ctx context.Context) ([]string, error)

	// DeleteTree removes every rank's record under name.
	DeleteTree(ctx context.Context, name string) error

	// Close releases the database.
	Close() error
}
