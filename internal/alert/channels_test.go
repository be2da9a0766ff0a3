package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

// botServer is a fake Telegram Bot API recording the methods called.
type botServer struct {
	mu      sync.Mutex
	calls   []string
	fields  map[string]map[string]string
	failOn  string
	photoSz int64
}

func (b *botServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	b.mu.Lock()
	b.calls = append(b.calls, method)
	if b.fields == nil {
		b.fields = make(map[string]map[string]string)
	}
	fields := make(map[string]string)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			for k, v := range r.MultipartForm.Value {
				fields[k] = v[0]
			}
			if fh := r.MultipartForm.File["photo"]; len(fh) > 0 {
				b.photoSz = fh[0].Size
			}
		}
	} else if err := r.ParseForm(); err == nil {
		for k, v := range r.PostForm {
			fields[k] = v[0]
		}
	}
	b.fields[method] = fields
	fail := b.failOn == method
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fail {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "Bad Request: chat not found"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

type fixedGeo struct {
	loc Location
	err error
}

func (g fixedGeo) Locate(context.Context) (Location, error) { return g.loc, g.err }

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "20250601_221500_000000.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF, 0xE0}, 0o644))
	return path
}

func TestTelegramChannel_SendsMessagePhotoLocation(t *testing.T) {
	bot := &botServer{}
	srv := httptest.NewServer(bot)
	defer srv.Close()

	geo := fixedGeo{loc: Location{City: "Lisbon", Country: "PT", Latitude: 38.72, Longitude: -9.14}}
	ch := NewTelegramChannel(TelegramConfig{Token: "123:abc", ChatID: "42", APIBase: srv.URL}, geo)

	err := ch.Send(context.Background(), Alert{Identity: "mallory", Score: 0.3, ImagePath: writeImage(t)})
	require.NoError(t, err)

	assert.Equal(t, []string{"sendMessage", "sendPhoto", "sendLocation"}, bot.calls)
	assert.Equal(t, "42", bot.fields["sendMessage"]["chat_id"])
	assert.Contains(t, bot.fields["sendMessage"]["text"], "Intruder Alert!")
	assert.Contains(t, bot.fields["sendMessage"]["text"], "Location: Lisbon, PT")
	assert.Contains(t, bot.fields["sendPhoto"]["caption"], "mallory")
	assert.Equal(t, int64(4), bot.photoSz)
	assert.Equal(t, "38.72", bot.fields["sendLocation"]["latitude"])
	assert.Equal(t, "-9.14", bot.fields["sendLocation"]["longitude"])
}

func TestTelegramChannel_GeolocationFailureDegradesOnly(t *testing.T) {
	bot := &botServer{}
	srv := httptest.NewServer(bot)
	defer srv.Close()

	ch := NewTelegramChannel(TelegramConfig{Token: "t", ChatID: "1", APIBase: srv.URL},
		fixedGeo{err: errors.New("ipinfo down")})

	require.NoError(t, ch.Send(context.Background(), Alert{ImagePath: writeImage(t)}))
	assert.Equal(t, []string{"sendMessage", "sendPhoto"}, bot.calls)
	assert.NotContains(t, bot.fields["sendMessage"]["text"], "Location")
}

func TestTelegramChannel_APIErrorStopsSequence(t *testing.T) {
	bot := &botServer{failOn: "sendMessage"}
	srv := httptest.NewServer(bot)
	defer srv.Close()

	ch := NewTelegramChannel(TelegramConfig{Token: "t", ChatID: "1", APIBase: srv.URL}, nil)

	err := ch.Send(context.Background(), Alert{ImagePath: writeImage(t)})
	assert.ErrorContains(t, err, "chat not found")
	assert.Equal(t, []string{"sendMessage"}, bot.calls)
}

func TestTelegramChannel_ErrorsDoNotLeakToken(t *testing.T) {
	ch := NewTelegramChannel(TelegramConfig{Token: "SECRET-TOKEN", ChatID: "1", APIBase: "http://127.0.0.1:1"}, nil)
	ch.WithHTTPClient(&http.Client{Timeout: time.Second})

	err := ch.Send(context.Background(), Alert{ImagePath: writeImage(t)})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-TOKEN")
}

func TestTelegramChannel_Configured(t *testing.T) {
	assert.False(t, NewTelegramChannel(TelegramConfig{Token: "t"}, nil).Configured())
	assert.False(t, NewTelegramChannel(TelegramConfig{ChatID: "1"}, nil).Configured())
	assert.True(t, NewTelegramChannel(TelegramConfig{Token: "t", ChatID: "1"}, nil).Configured())
}

func TestIPInfo_Locate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ip":"203.0.113.9","city":"Porto","region":"Porto","country":"PT","loc":"41.1496,-8.6110"}`))
	}))
	defer srv.Close()

	loc, err := (&IPInfo{URL: srv.URL}).Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Porto, PT", loc.Label())
	assert.InDelta(t, 41.1496, loc.Latitude, 1e-9)
	assert.InDelta(t, -8.6110, loc.Longitude, 1e-9)
}

func TestIPInfo_MalformedLoc(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"city":"Porto","loc":"nowhere"}`))
	}))
	defer srv.Close()

	loc, err := (&IPInfo{URL: srv.URL}).Locate(context.Background())
	assert.ErrorContains(t, err, "malformed loc")
	assert.Equal(t, "Porto", loc.City)
}

func TestLocation_LabelUnknown(t *testing.T) {
	assert.Equal(t, "Unknown", Location{}.Label())
}

func TestMailChannel_BuildsMessage(t *testing.T) {
	var got *mail.Msg
	ch := NewMailChannel(MailConfig{Host: "smtp.example.com", From: "guard@example.com", Password: "pw"}).
		WithSender(func(_ context.Context, msg *mail.Msg) error {
			got = msg
			return nil
		})

	require.True(t, ch.Configured())
	require.NoError(t, ch.Send(context.Background(), Alert{Identity: "mallory", Score: 0.3, ImagePath: writeImage(t)}))
	require.NotNil(t, got)

	assert.Equal(t, []string{mailSubject}, got.GetGenHeader(mail.HeaderSubject))
	rcpts, err := got.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"guard@example.com"}, rcpts)
	assert.Len(t, got.GetAttachments(), 1)
}

func TestMailChannel_SenderErrorPropagates(t *testing.T) {
	ch := NewMailChannel(MailConfig{Host: "h", From: "a@example.com", Password: "p"}).
		WithSender(func(context.Context, *mail.Msg) error { return errors.New("535 auth failed") })

	assert.ErrorContains(t, ch.Send(context.Background(), Alert{}), "535")
}

func TestMailChannel_MissingImageFailsWithoutSending(t *testing.T) {
	sent := false
	ch := NewMailChannel(MailConfig{Host: "h", From: "a@example.com", Password: "p"}).
		WithSender(func(context.Context, *mail.Msg) error {
			sent = true
			return nil
		})

	missing := filepath.Join(t.TempDir(), "gone.jpg")
	err := ch.Send(context.Background(), Alert{Identity: "mallory", ImagePath: missing})
	assert.ErrorContains(t, err, "mail attachment")
	assert.False(t, sent)
}

func TestMailChannel_Configured(t *testing.T) {
	assert.False(t, NewMailChannel(MailConfig{Host: "h", From: "a@example.com"}).Configured())
	assert.False(t, NewMailChannel(MailConfig{From: "a@example.com", Password: "p"}).Configured())
}

type recordingPublisher struct {
	topic   string
	qos     byte
	payload []byte
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, qos byte, payload []byte) error {
	p.topic, p.qos, p.payload = topic, qos, payload
	return nil
}

func TestMQTTChannel_PublishesAlertEvent(t *testing.T) {
	pub := &recordingPublisher{}
	ch := NewMQTTChannel(MQTTConfig{TopicPrefix: "home/door/", QoS: 1}).WithPublisher(pub)

	require.True(t, ch.Configured())
	err := ch.Send(context.Background(), Alert{
		Identity:   "mallory",
		Score:      0.3,
		ImagePath:  "data/captured/x.jpg",
		DetectedAt: time.Date(2025, 6, 1, 22, 15, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, "home/door/alerts", pub.topic)
	assert.Equal(t, byte(1), pub.qos)
	assert.JSONEq(t, `{
		"type": "intruder",
		"identity": "mallory",
		"score": 0.3,
		"image": "data/captured/x.jpg",
		"detected_at": "2025-06-01T22:15:00Z"
	}`, string(pub.payload))
}

func TestMQTTChannel_Defaults(t *testing.T) {
	ch := NewMQTTChannel(MQTTConfig{})
	assert.False(t, ch.Configured())
	assert.Equal(t, "motionguard/alerts", ch.Topic())
	assert.True(t, strings.HasPrefix(ch.cfg.ClientID, "motionguard-"))
}
