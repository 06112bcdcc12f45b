package mra

// ProcessMap decides which rank owns a tree key. It must be a pure
// function of the key.
type ProcessMap interface {
	Owner(key Key) int
}

// LevelMap is the default process map: keys at or above the split
// level hash directly, deeper keys hash their ancestor at the split
// level, preserving parent-child locality on the deep parts of the
// tree. The root always lives on rank 0.
type LevelMap struct {
	nproc int
	split Level
}

// NewLevelMap creates the default map for nproc ranks.
func NewLevelMap(nproc int) LevelMap {
	return LevelMap{nproc: nproc, split: 4}
}

// NewLevelMapSplit creates a map with an explicit split level.
func NewLevelMapSplit(nproc int, split Level) LevelMap {
	return LevelMap{nproc: nproc, split: split}
}

// Owner implements ProcessMap.
func (m LevelMap) Owner(key Key) int {
	if key.Level() == 0 {
		return 0
	}
	if key.Level() <= m.split {
		return int(key.Hash() % uint64(m.nproc))
	}
	return int(key.Ancestor(m.split).Hash() % uint64(m.nproc))
}

// keyHash adapts Key.Hash for the container's bucket index.
func keyHash(k Key) uint64 { return k.Hash() }
