package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func filteredLogger(groups ...string) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(NewGroupFilterHandler(slog.NewTextHandler(&buf, nil), groups)), &buf
}

func TestGroupFilterAllowList(t *testing.T) {
	logger, buf := filteredLogger("GW2")

	logger.Info("ungrouped")
	logger.WithGroup("poller").Info("other group")
	logger.WithGroup("gw2").Info("allowed")
	logger.WithGroup("gw2").WithGroup("pages").Info("nested")

	out := buf.String()
	require.NotContains(t, out, "ungrouped")
	require.NotContains(t, out, "other group")
	require.Contains(t, out, "allowed")
	require.Contains(t, out, "nested")
}

func TestGroupFilterDenyList(t *testing.T) {
	logger, buf := filteredLogger("-storage")

	logger.Info("ungrouped")
	logger.WithGroup("storage").Debug("hidden anyway")
	logger.WithGroup("storage").Warn("sql exec")
	logger.WithGroup("poller").With("tenant", 1).Info("poll finished")

	out := buf.String()
	require.Contains(t, out, "ungrouped")
	require.Contains(t, out, "poll finished")
	require.NotContains(t, out, "sql exec")
}

func TestGroupFilterDenyWins(t *testing.T) {
	logger, buf := filteredLogger("poller", "-scheduler")

	poller := logger.WithGroup("poller")
	poller.Info("cycle")
	poller.WithGroup("scheduler").Info("enqueue")

	out := buf.String()
	require.Equal(t, 1, strings.Count(out, "\n"))
	require.Contains(t, out, "cycle")
}

func TestGroupFilterSiblingsDoNotShareGroups(t *testing.T) {
	logger, buf := filteredLogger("reconcile")

	base := logger.WithGroup("reconcile")
	_ = base.WithGroup("a")
	base.WithGroup("b").Info("from b", "k", 1)

	require.Contains(t, buf.String(), "reconcile.b.k=1")
}

func TestGroupFilterPassthroughWhenNoEntries(t *testing.T) {
	next := slog.NewTextHandler(&bytes.Buffer{}, nil)
	require.Same(t, next, NewGroupFilterHandler(next, nil))
	require.Same(t, next, NewGroupFilterHandler(next, []string{" ", "-"}))
}
