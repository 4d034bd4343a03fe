// Package indicator renders session status as desktop notifications with optional audio cues.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/lookout/internal/config"
)

const (
	notificationIcon = "camera-web"
	dispatchTimeout  = 400 * time.Millisecond
	// Long-lived states stay up until replaced or dismissed.
	persistentTimeoutMS = 0
	noticeTimeoutMS     = 2500
)

// DesktopNotify shows one replaceable freedesktop notification per process.
type DesktopNotify struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages
	playCue  func(context.Context, cueKind) error

	mu             sync.Mutex
	notificationID uint32
	soundMu        sync.Mutex
}

// NewDesktopNotify creates an indicator from config.
func NewDesktopNotify(cfg config.IndicatorConfig, logger *slog.Logger) *DesktopNotify {
	return &DesktopNotify{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
		playCue:  emitCue,
	}
}

// ShowStarting signals that devices and the remote session are being opened.
func (d *DesktopNotify) ShowStarting(ctx context.Context) {
	d.show(ctx, notification{summary: d.messages.starting, urgency: urgencyLow, timeoutMS: persistentTimeoutMS})
}

// ShowActive signals a live session; detail names the devices in use.
func (d *DesktopNotify) ShowActive(ctx context.Context, detail string) {
	d.cue(cueStart)
	d.show(ctx, notification{summary: d.messages.active, body: detail, urgency: urgencyNormal, timeoutMS: persistentTimeoutMS})
}

// ShowNotice displays a transient informational message.
func (d *DesktopNotify) ShowNotice(ctx context.Context, text string) {
	d.show(ctx, notification{summary: text, urgency: urgencyLow, timeoutMS: noticeTimeoutMS})
}

// ShowError displays an error-state message.
func (d *DesktopNotify) ShowError(ctx context.Context, text string) {
	d.cue(cueError)
	if strings.TrimSpace(text) == "" {
		text = d.messages.errorText
	}
	timeout := d.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	d.show(ctx, notification{summary: text, urgency: urgencyCritical, timeoutMS: timeout})
}

// ShowStopped signals the end of a session.
func (d *DesktopNotify) ShowStopped(ctx context.Context) {
	d.cue(cueStop)
	d.show(ctx, notification{summary: d.messages.stopped, urgency: urgencyLow, timeoutMS: noticeTimeoutMS})
}

// Hide dismisses the current notification.
func (d *DesktopNotify) Hide(ctx context.Context) {
	if !d.cfg.Enable {
		return
	}
	d.run(ctx, d.dismiss)
}

func (d *DesktopNotify) show(ctx context.Context, n notification) {
	if !d.cfg.Enable {
		return
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, n)
	})
}

// notify sends n, replacing the previous notification, and stores the new ID.
func (d *DesktopNotify) notify(ctx context.Context, n notification) error {
	d.mu.Lock()
	n.replaceID = d.notificationID
	d.mu.Unlock()

	n.appName = strings.TrimSpace(d.cfg.DesktopAppName)
	if n.appName == "" {
		n.appName = "lookout"
	}
	n.icon = notificationIcon

	id, err := desktopNotify(ctx, n)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.notificationID = id
	d.mu.Unlock()
	return nil
}

// dismiss closes the current notification ID when present.
func (d *DesktopNotify) dismiss(ctx context.Context) error {
	d.mu.Lock()
	id := d.notificationID
	d.notificationID = 0
	d.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

// run executes an indicator operation with a bounded timeout.
func (d *DesktopNotify) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	if err := fn(runCtx); err != nil {
		d.log("indicator dispatch failed", err)
	}
}

// cue serializes cue playback and emits audio asynchronously.
func (d *DesktopNotify) cue(kind cueKind) {
	if !d.cfg.SoundEnable {
		return
	}
	go func() {
		d.soundMu.Lock()
		defer d.soundMu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := d.playCue(ctx, kind); err != nil {
			d.log("indicator audio cue failed", err)
		}
	}()
}

// log emits debug-only indicator failures to the runtime logger.
func (d *DesktopNotify) log(message string, err error) {
	if d.logger == nil || err == nil {
		return
	}
	d.logger.Debug(message, "error", err.Error())
}
