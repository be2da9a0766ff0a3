package alert_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/motionguard/internal/alert"
	"github.com/roach88/motionguard/internal/capture"
	"github.com/roach88/motionguard/internal/testutil"
	"github.com/roach88/motionguard/internal/verify"
)

var detectedAt = time.Date(2025, 6, 1, 22, 15, 0, 0, time.UTC)

func intruder() verify.Outcome {
	return verify.Outcome{
		Kind:     verify.Intruder,
		Identity: "mallory",
		Score:    0.3,
		Frame:    capture.Frame{Index: 0, Path: "data/captured/x.jpg"},
	}
}

func TestDispatch_OnlyForIntruder(t *testing.T) {
	ch := testutil.NewFakeChannel("telegram")
	d := alert.NewDispatcher(ch)

	for _, kind := range []verify.Kind{verify.Authorized, verify.Inconclusive} {
		report := d.Dispatch(context.Background(), verify.Outcome{Kind: kind}, "x.jpg")
		assert.Empty(t, report.Results)
	}
	assert.Empty(t, ch.Sent())
}

func TestDispatch_SendsToEveryChannelOnce(t *testing.T) {
	tg := testutil.NewFakeChannel("telegram")
	mail := testutil.NewFakeChannel("mail")
	d := alert.NewDispatcher(tg, mail).WithClock(func() time.Time { return detectedAt })

	report := d.Dispatch(context.Background(), intruder(), "data/captured/x.jpg")

	assert.Equal(t, 2, report.Sent())
	require.Len(t, tg.Sent(), 1)
	require.Len(t, mail.Sent(), 1)
	assert.Equal(t, alert.Alert{
		Identity:   "mallory",
		Score:      0.3,
		ImagePath:  "data/captured/x.jpg",
		DetectedAt: detectedAt,
	}, tg.Sent()[0])
}

func TestDispatch_FailingChannelDoesNotStopOthers(t *testing.T) {
	tg := testutil.NewFakeChannel("telegram")
	mail := testutil.NewFakeChannel("mail")
	mail.Err = errors.New("smtp auth failed")
	mq := testutil.NewFakeChannel("mqtt")
	d := alert.NewDispatcher(mail, tg, mq)

	report := d.Dispatch(context.Background(), intruder(), "x.jpg")

	require.Len(t, report.Results, 3)
	assert.Equal(t, alert.StatusFailed, report.Results[0].Status)
	assert.True(t, alert.IsNotificationError(report.Results[0].Err))
	assert.ErrorContains(t, report.Results[0].Err, "smtp auth failed")
	assert.Equal(t, alert.StatusSent, report.Results[1].Status)
	assert.Equal(t, alert.StatusSent, report.Results[2].Status)
	assert.Len(t, report.Failed(), 1)
	assert.Len(t, mail.Sent(), 1, "no retry")
}

func TestDispatch_PanickingChannelIsContained(t *testing.T) {
	bad := testutil.NewFakeChannel("telegram")
	bad.Panic = "nil map write"
	good := testutil.NewFakeChannel("mail")
	d := alert.NewDispatcher(bad, good)

	report := d.Dispatch(context.Background(), intruder(), "x.jpg")

	assert.Equal(t, alert.StatusFailed, report.Results[0].Status)
	assert.ErrorContains(t, report.Results[0].Err, "panic: nil map write")
	assert.Equal(t, alert.StatusSent, report.Results[1].Status)
}

func TestDispatch_SkipsUnconfigured(t *testing.T) {
	off := testutil.NewFakeChannel("telegram")
	off.Unconfigured = true
	on := testutil.NewFakeChannel("mail")
	d := alert.NewDispatcher(off, on)

	report := d.Dispatch(context.Background(), intruder(), "x.jpg")

	assert.Equal(t, alert.StatusSkipped, report.Results[0].Status)
	assert.Empty(t, off.Sent())
	assert.Equal(t, 1, report.Sent())
	assert.Equal(t, []string{"telegram", "mail"}, d.Channels())
}
