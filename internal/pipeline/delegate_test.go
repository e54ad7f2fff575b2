package pipeline

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/uniguide/internal/reasoning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelegateTool_OnlyForDelegatingWorkers(t *testing.T) {
	stub := stubOutputs()
	p, err := Build(testWorkers(stub), threeStages())
	require.NoError(t, err)

	_, err = p.Run(context.Background(), testStore(t))
	require.NoError(t, err)

	assert.Empty(t, stub.RequestsFor("collector")[0].Tools)
	coordTools := stub.RequestsFor("coordinator")[0].Tools
	require.Len(t, coordTools, 1)
	assert.Equal(t, DelegateToolName, coordTools[0].Name())
	assert.Contains(t, coordTools[0].Description(), "collector, ranker")
}

func TestDelegateTool_Call(t *testing.T) {
	stub := reasoning.NewScripted(map[string]reasoning.Script{"ranker": {Output: "IISc is first"}})
	workers := map[string]*Worker{
		"coordinator": {Name: "coordinator", Capability: stub},
		"ranker":      {Name: "ranker", Role: "University Ranking Specialist", Capability: stub},
	}
	tool := newDelegateTool(workers["coordinator"], workers)
	ctx := context.Background()

	out, err := tool.Call(ctx, map[string]any{"worker": "ranker", "question": "Who is first?"})
	require.NoError(t, err)
	assert.Equal(t, "IISc is first", out)

	reqs := stub.RequestsFor("ranker")
	require.Len(t, reqs, 1)
	assert.Equal(t, "Who is first?", reqs[0].Instruction)
	assert.Equal(t, "University Ranking Specialist", reqs[0].Role)
	assert.Empty(t, reqs[0].Tools)

	_, err = tool.Call(ctx, map[string]any{"worker": "coordinator", "question": "x"})
	assert.ErrorContains(t, err, "yourself")

	_, err = tool.Call(ctx, map[string]any{"worker": "ghost", "question": "x"})
	assert.ErrorContains(t, err, `unknown coworker "ghost"`)

	_, err = tool.Call(ctx, map[string]any{"worker": "ranker"})
	assert.ErrorContains(t, err, "question is required")
}

func TestStageSpec_ToolsPassedThrough(t *testing.T) {
	stub := reasoning.NewScripted(nil)
	search := &staticTool{name: "web_search"}
	specs := []StageSpec{{Name: "a", Worker: "collector", Description: "x", Tools: []reasoning.Tool{search}}}

	p, err := Build(testWorkers(stub), specs)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), testStore(t))
	require.NoError(t, err)

	tools := stub.Requests()[0].Tools
	require.Len(t, tools, 1)
	assert.Same(t, search, tools[0])
}

type staticTool struct{ name string }

func (s *staticTool) Name() string                      { return s.name }
func (s *staticTool) Description() string               { return "static" }
func (s *staticTool) Parameters() []reasoning.Parameter { return nil }
func (s *staticTool) Call(context.Context, map[string]any) (string, error) {
	return "ok", nil
}
