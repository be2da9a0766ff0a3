package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/motionguard/internal/alert"
	"github.com/roach88/motionguard/internal/matcher"
	"github.com/roach88/motionguard/internal/testutil"
)

// harness runs CLI commands against a temp directory with fake hardware.
type harness struct {
	t        *testing.T
	dir      string
	cfgPath  string
	opts     *RootOptions
	ports    *testutil.PortSequence
	device   *testutil.FakeDevice
	embedder *testutil.FakeEmbedder
	channel  *testutil.FakeChannel
}

const testConfig = `
trigger:
  port: /dev/null
  read_timeout_ms: 5
  resume_settle_ms: 1
capture:
  frames: 2
  delay_ms: 0
  dir: %[1]s/captured
matcher:
  gallery: %[1]s/gallery.yaml
policy:
  authorized_identities: [alice]
alerts:
  geolocation:
    enabled: false
store:
  journal: %[1]s/logs/detections.log
  sqlite_path: %[1]s/mirror/detections.db
logging:
  level: warn
`

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "motionguard.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(testConfig, dir)), 0o644))

	gallery := &matcher.Gallery{Identities: []matcher.Identity{
		{Name: "alice", Embeddings: []matcher.Embedding{{1, 0, 0}}},
		{Name: "mallory", Embeddings: []matcher.Embedding{{0, 1, 0}}},
	}}
	require.NoError(t, gallery.Save(filepath.Join(dir, "gallery.yaml")))

	h := &harness{
		t:       t,
		dir:     dir,
		cfgPath: cfgPath,
		ports:   testutil.NewPortSequence(testutil.NewFakePort("boot ok", "motion")),
		device:  testutil.NewFakeDevice(),
		embedder: testutil.NewFakeEmbedder(map[string]matcher.Embedding{
			"alice":   {1, 0, 0},
			"mallory": {0, 1, 0},
		}),
		channel: testutil.NewFakeChannel("telegram"),
	}
	h.opts = &RootOptions{
		Opener:   h.ports.Open,
		Device:   h.device,
		Embedder: h.embedder,
		Channels: []alert.Channel{h.channel},
		Now:      func() time.Time { return testutil.Epoch },
	}
	return h
}

// frames scripts the camera burst by embedder tag.
func (h *harness) frames(tags ...string) {
	for _, tag := range tags {
		h.device.Frames = append(h.device.Frames, testutil.JPEG(tag))
	}
}

func (h *harness) path(rel string) string {
	return filepath.Join(h.dir, rel)
}

// execute runs the root command with --config prepended.
func (h *harness) execute(args ...string) (stdout, stderr string, err error) {
	h.t.Helper()
	cmd := newRootCommand(h.opts)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", h.cfgPath}, args...))
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func (h *harness) journal() string {
	h.t.Helper()
	data, err := os.ReadFile(h.path("logs/detections.log"))
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(h.t, err)
	return string(data)
}
