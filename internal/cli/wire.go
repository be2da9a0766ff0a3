package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/motionguard/internal/alert"
	"github.com/roach88/motionguard/internal/capture"
	"github.com/roach88/motionguard/internal/capture/gstcam"
	"github.com/roach88/motionguard/internal/config"
	"github.com/roach88/motionguard/internal/matcher"
	"github.com/roach88/motionguard/internal/pipeline"
	"github.com/roach88/motionguard/internal/store"
	"github.com/roach88/motionguard/internal/trigger"
	"github.com/roach88/motionguard/internal/verify"
)

// app holds the components one command builds from the configuration.
// Close releases them in reverse order of creation.
type app struct {
	cfg       *config.Config
	opts      *RootOptions
	journal   *store.Journal
	mirror    store.Mirror
	artifacts *capture.ArtifactStore
	closers   []func() error
}

func newApp(opts *RootOptions, cfg *config.Config) *app {
	return &app{
		cfg:       cfg,
		opts:      opts,
		journal:   store.NewJournal(cfg.Store.Journal),
		artifacts: capture.NewArtifactStore(cfg.Capture.Dir),
	}
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("error releasing resource", "error", err)
		}
	}
	a.closers = nil
}

// openMirror connects the configured mirror. With required unset a failure
// is logged and the app continues on the journal alone.
func (a *app) openMirror(ctx context.Context, required bool) error {
	m, err := openMirror(ctx, a.cfg.Store)
	if err != nil {
		if required {
			return err
		}
		slog.Warn("mirror unavailable, journal only", "mirror", a.cfg.Store.Mirror, "error", err)
		return nil
	}
	if m == nil {
		return nil
	}
	a.mirror = m
	a.onClose(m.Close)
	slog.Debug("mirror connected", "mirror", m.Name())
	return nil
}

func openMirror(ctx context.Context, sc config.StoreConfig) (store.Mirror, error) {
	switch sc.Mirror {
	case config.MirrorNone:
		return nil, nil
	case config.MirrorSQLite:
		if dir := filepath.Dir(sc.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create mirror dir: %w", err)
			}
		}
		return store.OpenSQLite(sc.SQLitePath)
	case config.MirrorPostgres:
		return store.OpenPostgres(ctx, sc.PostgresDSN)
	case config.MirrorS3:
		return store.OpenObjectStore(ctx, store.ObjectConfig{
			Endpoint:        sc.S3.Endpoint,
			AccessKey:       sc.S3.AccessKey,
			SecretKey:       sc.S3.SecretKey,
			UseSSL:          sc.S3.UseSSL,
			Bucket:          sc.S3.Bucket,
			UploadArtifacts: sc.S3.UploadArtifacts,
		})
	}
	return nil, fmt.Errorf("unknown mirror %q", sc.Mirror)
}

func (a *app) recorder() *store.Recorder {
	return store.NewRecorder(a.journal, a.mirror)
}

func (a *app) opener() trigger.Opener {
	if a.opts.Opener != nil {
		return a.opts.Opener
	}
	tc := a.cfg.Trigger
	if tc.Address != "" {
		return trigger.NetOpener(tc.Address)
	}
	return trigger.SerialOpener(tc.Port, tc.Baud)
}

func (a *app) triggerSource() *trigger.Source {
	tc := a.cfg.Trigger
	return trigger.NewSource(a.opener(), trigger.Config{
		Tokens:       tc.Tokens,
		ReadTimeout:  tc.ReadTimeout(),
		ResumeToken:  tc.ResumeToken,
		ResumeSettle: tc.ResumeSettle(),
	})
}

func (a *app) device() capture.Device {
	if a.opts.Device != nil {
		return a.opts.Device
	}
	cc := a.cfg.Camera
	return gstcam.New(gstcam.Config{
		Device:      cc.Device,
		Width:       cc.Width,
		Height:      cc.Height,
		Quality:     cc.Quality,
		GrabTimeout: cc.GrabTimeout(),
	})
}

// embedder returns the configured embedder. The subprocess is started
// lazily on first use and stopped by Close.
func (a *app) embedder() (matcher.Embedder, error) {
	if a.opts.Embedder != nil {
		return a.opts.Embedder, nil
	}
	mc := a.cfg.Matcher
	e, err := matcher.NewSubprocessEmbedder(matcher.SubprocessConfig{
		Command: mc.Command,
		Args:    mc.Args,
		Timeout: mc.Timeout(),
	})
	if err != nil {
		return nil, err
	}
	a.onClose(e.Close)
	return e, nil
}

func (a *app) channels() []alert.Channel {
	if a.opts.Channels != nil {
		return a.opts.Channels
	}
	ac := a.cfg.Alerts

	var geo alert.Geolocator
	if ac.Geolocation.Enabled {
		geo = &alert.IPInfo{URL: ac.Geolocation.URL, Token: ac.Geolocation.Token}
	}

	mq := alert.NewMQTTChannel(alert.MQTTConfig{
		Broker:      ac.MQTT.Broker,
		ClientID:    ac.MQTT.ClientID,
		Username:    ac.MQTT.Username,
		Password:    ac.MQTT.Password,
		TopicPrefix: ac.MQTT.TopicPrefix,
		QoS:         byte(ac.MQTT.QoS),
	})
	a.onClose(func() error {
		mq.Close()
		return nil
	})

	return []alert.Channel{
		alert.NewTelegramChannel(alert.TelegramConfig{
			Token:   ac.Telegram.Token,
			ChatID:  ac.Telegram.ChatID,
			APIBase: ac.Telegram.APIBase,
		}, geo),
		alert.NewMailChannel(alert.MailConfig{
			Host:     ac.Mail.Host,
			Port:     ac.Mail.Port,
			Username: ac.Mail.Username,
			Password: ac.Mail.Password,
			From:     ac.Mail.From,
			To:       ac.Mail.To,
		}),
		mq,
	}
}

func (a *app) policy() verify.Policy {
	pc := a.cfg.Policy
	return verify.Policy{
		Threshold:            pc.Threshold,
		AuthorizedLabel:      pc.AuthorizedLabel,
		AuthorizedIdentities: pc.AuthorizedIdentities,
	}
}

// pipeline assembles the detection pipeline. The mirror must already be
// open if one is wanted.
func (a *app) pipeline() (*pipeline.Pipeline, error) {
	gallery, err := matcher.LoadGallery(a.cfg.Matcher.Gallery)
	if err != nil {
		return nil, err
	}
	if gallery.Size() == 0 {
		slog.Warn("gallery is empty, every face will be an intruder", "gallery", a.cfg.Matcher.Gallery)
	}
	emb, err := a.embedder()
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithPolicy(a.policy()),
		pipeline.WithCapture(a.cfg.Capture.Frames, a.cfg.Capture.Delay()),
	}
	if a.opts.Now != nil {
		opts = append(opts, pipeline.WithClock(a.opts.Now))
	}

	return pipeline.New(
		a.triggerSource(),
		capture.NewCapturer(a.device(), a.artifacts),
		matcher.NewGalleryMatcher(emb, gallery),
		alert.NewDispatcher(a.channels()...),
		a.recorder(),
		opts...,
	), nil
}

// loadOrEmptyGallery reads the gallery, treating a missing file as empty.
func loadOrEmptyGallery(path string) (*matcher.Gallery, error) {
	g, err := matcher.LoadGallery(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &matcher.Gallery{}, nil
	}
	return g, err
}
