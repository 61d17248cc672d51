package debugapi

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/moonduel/server/internal/clock"
	"github.com/moonduel/server/internal/persist"
)

type fakeHits struct {
	hits []persist.HitEntry
	err  error
	got  int
}

func (f *fakeHits) RecentHits(_ context.Context, limit int) ([]persist.HitEntry, error) {
	f.got = limit
	return f.hits, f.err
}

func call(h app.HandlerFunc, body string) *app.RequestContext {
	ctx := &app.RequestContext{}
	if body != "" {
		ctx.Request.SetBody([]byte(body))
	}
	h(context.Background(), ctx)
	return ctx
}

func decode(t *testing.T, ctx *app.RequestContext) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &out))
	return out
}

func TestPauseQueuesCommand(t *testing.T) {
	a := New(4, nil, zap.NewNop())
	ctx := call(a.pause, "")
	assert.Equal(t, consts.StatusAccepted, ctx.Response.StatusCode())

	cmd := <-a.Commands()
	assert.Equal(t, CmdPause, cmd.Kind)
}

func TestStepDefaultsToSimDt(t *testing.T) {
	a := New(4, nil, zap.NewNop())
	a.Publish(View{Clock: clock.State{SimDt: 16}})

	ctx := call(a.step, "")
	require.Equal(t, consts.StatusAccepted, ctx.Response.StatusCode())
	assert.Equal(t, Command{Kind: CmdStep, Value: 16}, <-a.Commands())

	ctx = call(a.step, `{"ms":5}`)
	require.Equal(t, consts.StatusAccepted, ctx.Response.StatusCode())
	assert.Equal(t, Command{Kind: CmdStep, Value: 5}, <-a.Commands())

	ctx = call(a.step, `{"ms":-1}`)
	assert.Equal(t, consts.StatusBadRequest, ctx.Response.StatusCode())
}

func TestSpeedValidation(t *testing.T) {
	a := New(4, nil, zap.NewNop())

	ctx := call(a.speed, `{"value":0}`)
	assert.Equal(t, consts.StatusBadRequest, ctx.Response.StatusCode())
	ctx = call(a.speed, `not json`)
	assert.Equal(t, consts.StatusBadRequest, ctx.Response.StatusCode())

	ctx = call(a.speed, `{"value":0.5}`)
	assert.Equal(t, consts.StatusAccepted, ctx.Response.StatusCode())
	assert.Equal(t, Command{Kind: CmdSpeed, Value: 0.5}, <-a.Commands())
}

func TestFullQueueIsUnavailable(t *testing.T) {
	a := New(1, nil, zap.NewNop())
	call(a.pause, "")
	ctx := call(a.resume, "")
	assert.Equal(t, consts.StatusServiceUnavailable, ctx.Response.StatusCode())
	assert.Equal(t, ErrQueueFull.Error(), decode(t, ctx)["error"])
}

func TestStateServesMirror(t *testing.T) {
	a := New(1, nil, zap.NewNop())
	a.Publish(View{
		Clock:   clock.State{SimFrame: 42, Paused: true},
		Players: []PlayerView{{Slot: 1, Name: "selene", State: "None"}},
	})

	ctx := call(a.state, "")
	require.Equal(t, consts.StatusOK, ctx.Response.StatusCode())
	var v View
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &v))
	assert.Equal(t, int32(42), v.Clock.SimFrame)
	assert.True(t, v.Clock.Paused)
	require.Len(t, v.Players, 1)
	assert.Equal(t, "selene", v.Players[0].Name)
}

func TestRecentHits(t *testing.T) {
	a := New(1, nil, zap.NewNop())
	ctx := call(a.recentHits, "")
	assert.Equal(t, consts.StatusNotFound, ctx.Response.StatusCode())

	src := &fakeHits{hits: []persist.HitEntry{{Frame: 7, Victim: 1, Attacker: 0, Attack: "slash"}}}
	a = New(1, src, zap.NewNop())
	ctx = call(a.recentHits, "")
	require.Equal(t, consts.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, 50, src.got)
	hits := decode(t, ctx)["hits"].([]any)
	require.Len(t, hits, 1)
	assert.Equal(t, "slash", hits[0].(map[string]any)["attack"])

	src.err = errors.New("db down")
	ctx = call(a.recentHits, "")
	assert.Equal(t, consts.StatusInternalServerError, ctx.Response.StatusCode())
}

func TestApply(t *testing.T) {
	c := clock.New(clock.Config{SimDt: 16 * time.Millisecond}, nil)

	Apply(c, Command{Kind: CmdPause})
	assert.True(t, c.Paused())
	Apply(c, Command{Kind: CmdResume})
	assert.False(t, c.Paused())
	Apply(c, Command{Kind: CmdSpeed, Value: 2})
	assert.Equal(t, 2.0, c.State().Speed)
	Apply(c, Command{Kind: CmdStep, Value: 16})
	assert.True(t, c.Paused())
}
