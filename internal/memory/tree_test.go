package memory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTree(t *testing.T) (*Store, []Memory) {
	t.Helper()
	s := NewStore("a")
	o1, err := s.Append(observation("wall to the east", 3))
	require.NoError(t, err)
	o2, err := s.Append(observation("wall to the west", 3))
	require.NoError(t, err)
	r1, err := s.Append(Memory{Kind: KindReflection, Text: "corridor runs north", Importance: 6, Level: 1, EvidenceIDs: []string{o1.ID, o2.ID}, Category: CategoryPattern})
	require.NoError(t, err)
	r2, err := s.Append(Memory{Kind: KindReflection, Text: "walls guide me", Importance: 5, Level: 1, EvidenceIDs: []string{o1.ID}, Category: CategoryStrategy})
	require.NoError(t, err)
	m1, err := s.Append(Memory{Kind: KindReflection, Text: "follow corridors", Importance: 8, Level: 2, EvidenceIDs: []string{r1.ID}, Category: CategoryMeta})
	require.NoError(t, err)
	return s, []Memory{o1, o2, r1, r2, m1}
}

func TestTree_Structure(t *testing.T) {
	s, ms := buildTree(t)
	tree := s.Tree()

	require.NoError(t, tree.Validate())
	assert.Equal(t, 3, tree.Len())
	assert.Equal(t, 2, tree.Depth())
	assert.Equal(t, []int{1, 2}, tree.Levels())
	assert.Len(t, tree.Level(1), 2)

	n, ok := tree.Node(ms[4].ID)
	require.True(t, ok)
	assert.Equal(t, CategoryMeta, n.Category)

	ev := tree.Evidence(ms[2].ID)
	require.Len(t, ev, 2)
	assert.Equal(t, "wall to the east", ev[0].Text)

	roots := tree.Roots()
	require.Len(t, roots, 2)
	assert.Equal(t, ms[4].ID, roots[0].ID)
	assert.Equal(t, ms[3].ID, roots[1].ID)

	_, ok = tree.Node(ms[0].ID)
	assert.False(t, ok, "observations are not tree nodes")
}

func TestTree_ValidateDetectsViolations(t *testing.T) {
	_, ms := buildTree(t)
	bad := []Memory{
		ms[0],
		{ID: "r-dangling", Kind: KindReflection, Text: "x", Importance: 1, Level: 1, EvidenceIDs: []string{"ghost"}},
		{ID: "r-flat", Kind: KindReflection, Text: "y", Importance: 1, Level: 1, EvidenceIDs: []string{"r-dangling"}},
	}
	err := NewTree(bad).Validate()
	assert.ErrorIs(t, err, ErrDanglingEvidence)
	assert.ErrorIs(t, err, ErrLevelOrder)
}

func TestTree_JSON(t *testing.T) {
	s, _ := buildTree(t)
	data, err := json.Marshal(s.Tree())
	require.NoError(t, err)

	var out struct {
		Depth  int `json:"depth"`
		Size   int `json:"size"`
		Levels []struct {
			Level int    `json:"level"`
			Nodes []Node `json:"nodes"`
		} `json:"levels"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 2, out.Depth)
	assert.Equal(t, 3, out.Size)
	require.Len(t, out.Levels, 2)
	assert.Equal(t, 1, out.Levels[0].Level)
	assert.Len(t, out.Levels[0].Nodes, 2)

	empty, err := json.Marshal(NewStore("b").Tree())
	require.NoError(t, err)
	assert.JSONEq(t, `{"depth":0,"size":0,"levels":[]}`, string(empty))
}
