// Package playback keeps the now-playing list and the media engine in step.
//
// Controller is the only writer of the list. Every operation runs under one
// lock and mirrors its mutation into the engine, so the engine's idea of the
// current item never diverges from the list's cursor.
package playback

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deemusic/deemusic-player/internal/batch"
	apperrors "github.com/deemusic/deemusic-player/internal/errors"
	"github.com/deemusic/deemusic-player/internal/events"
	"github.com/deemusic/deemusic-player/internal/monitoring"
)

// DefaultSettleTimeout bounds the wait for the engine to open an item
const DefaultSettleTimeout = 500 * time.Millisecond

// Settings persists user playback preferences
type Settings interface {
	Volume() int
	Muted() bool
	Shuffle() bool
	Repeat() string
	SetVolume(volume int) error
	SetMuted(muted bool) error
	SetShuffle(shuffle bool) error
	SetRepeat(mode string) error
}

// Event payloads
type (
	ListChange struct {
		Items   []Item `json:"items"`
		Current int    `json:"current"`
	}

	CurrentChange struct {
		Index    int           `json:"index"`
		Item     Item          `json:"item"`
		Position time.Duration `json:"position"`
	}

	StateChange struct {
		State string `json:"state"`
	}

	Replacing struct {
		Count int `json:"count"`
	}

	ReplaceFailed struct {
		Message string `json:"message"`
	}

	Failure struct {
		Index int    `json:"index"`
		Error string `json:"error"`
	}
)

// Status is a point-in-time view of the controller
type Status struct {
	Items    []Item
	Current  int
	Shuffle  bool
	Repeat   RepeatMode
	Volume   int
	Muted    bool
	State    EngineState
	Position time.Duration
}

// pendingMove is set when the playing item is removed. The next insertion
// takes its place at the saved position.
type pendingMove struct {
	resume   bool
	position time.Duration
}

// Controller coordinates the playback list with the media engine
type Controller struct {
	mu       sync.Mutex
	list     *List
	engine   Engine
	pending  *pendingMove
	volume   int
	muted    bool
	hub      *events.Hub
	settings Settings
	logger   *zap.Logger

	settleTimeout time.Duration
	settleMu      sync.Mutex
	settleIndex   int
	settleID      string
	settleCh      chan struct{}

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewController creates a controller over engine. Preferences are read from
// settings once here; settings may be nil.
func NewController(engine Engine, hub *events.Hub, settings Settings, settleTimeout time.Duration, logger *zap.Logger) *Controller {
	if settleTimeout <= 0 {
		settleTimeout = DefaultSettleTimeout
	}

	c := &Controller{
		list:          NewList(),
		engine:        engine,
		volume:        100,
		hub:           hub,
		settings:      settings,
		logger:        monitoring.Component(logger, "playback"),
		settleTimeout: settleTimeout,
		done:          make(chan struct{}),
	}

	if settings != nil {
		c.volume = settings.Volume()
		c.muted = settings.Muted()
		c.list.SetShuffle(settings.Shuffle())
		mode, err := ParseRepeatMode(settings.Repeat())
		if err != nil {
			c.logger.Warn("Ignoring stored repeat mode", zap.Error(err))
		}
		c.list.SetRepeat(mode)
	}

	engine.SetVolume(float64(c.volume) / 100)
	engine.SetMuted(c.muted)
	return c
}

// Start begins consuming engine events
func (c *Controller) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.watchEngine()
	})
}

// Close stops consuming engine events and waits for in-flight handlers
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}

func (c *Controller) watchEngine() {
	defer c.wg.Done()

	engineEvents := c.engine.Events()
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-engineEvents:
			if !ok {
				return
			}
			c.handleEngineEvent(ev)
		}
	}
}

func (c *Controller) handleEngineEvent(ev EngineEvent) {
	switch ev.Type {
	case EngineStateChanged:
		monitoring.RecordPlaybackEvent(ev.State.String())
		c.publish(events.PlaybackState, StateChange{State: ev.State.String()})

	case EngineCurrentItemChanged:
		c.markSettled(ev.Index, ev.Item.ID)

	case EngineItemEnded:
		// Advancing takes the controller lock, which an operation waiting
		// for the engine to settle may hold
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.advance(ev.Index)
		}()

	case EngineFailed:
		msg := "playback failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		c.logger.Warn("Media engine failed",
			zap.Int("index", ev.Index),
			zap.String("error", msg))
		monitoring.RecordPlaybackEvent("failed")
		c.publish(events.PlaybackFailed, Failure{Index: ev.Index, Error: msg})
	}
}

// advance moves on after the item at index ended
func (c *Controller) advance(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.list.Current(); !ok || cur != index {
		return
	}

	next, ok := c.list.Next(true)
	if !ok {
		c.stopAtEndLocked()
		return
	}
	if err := c.openLocked(next, true); err != nil {
		c.logger.Warn("Failed to advance", zap.Int("index", next), zap.Error(err))
	}
}

// Replace stops playback, swaps the list for items and plays from the first.
// MediaReplacing is delivered before the old list is touched.
func (c *Controller) Replace(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return apperrors.NewValidationError("nothing to play")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.notifyReplacing(ctx, len(items))
	return c.replaceLocked(items)
}

// ReplaceResolved is Replace for items that are still being resolved. The
// replacing notification goes out before resolution starts; the list is only
// touched once at least one item resolved. When none did, MediaReplaceFailed
// is emitted and the batch error returned.
func (c *Controller) ReplaceResolved(ctx context.Context, results iter.Seq[batch.Result[Item]]) (*batch.Report[Item], error) {
	c.notifyReplacing(ctx, 0)

	report := batch.Collect(results)
	if len(report.Succeeded) == 0 {
		c.publish(events.MediaReplaceFailed, ReplaceFailed{Message: report.Message()})
		if err := report.Err(); err != nil {
			return report, err
		}
		return report, apperrors.NewValidationError("nothing to play")
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return report, c.replaceLocked(report.Succeeded)
}

func (c *Controller) notifyReplacing(ctx context.Context, count int) {
	if c.hub == nil {
		return
	}
	err := c.hub.Invoke(ctx, func() {
		c.hub.Emit(events.MediaReplacing, Replacing{Count: count})
	})
	if err != nil {
		c.logger.Debug("Replacing notification not delivered", zap.Error(err))
	}
}

func (c *Controller) replaceLocked(items []Item) error {
	c.pending = nil
	if err := c.engine.Stop(); err != nil {
		return engineError("stop", err)
	}
	if err := c.engine.Clear(); err != nil {
		return engineError("clear", err)
	}

	c.list.Replace(items)
	for i, item := range items {
		if err := c.engine.Insert(i, item); err != nil {
			return engineError("insert", err)
		}
	}
	c.publishList()

	cur, _ := c.list.Current()
	return c.openLocked(cur, true)
}

// Append adds items at the end. Playback starts when the list was empty.
func (c *Controller) Append(ctx context.Context, items []Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(ctx, c.list.Len(), items)
}

// PlayNext inserts items right after the current one
func (c *Controller) PlayNext(ctx context.Context, items []Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, _ := c.list.Current()
	return c.insertLocked(ctx, cur+1, items)
}

// InsertAt inserts items before index
func (c *Controller) InsertAt(ctx context.Context, index int, items []Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(ctx, index, items)
}

// insertLocked inserts items at index. If the playing item was removed
// before, the engine moves to the first inserted item, waits for it to
// open, then continues from the saved position in the saved transport state.
func (c *Controller) insertLocked(ctx context.Context, index int, items []Item) error {
	if index < 0 || index > c.list.Len() {
		return apperrors.NewOutOfRangeError(index, c.list.Len())
	}
	if len(items) == 0 {
		return nil
	}

	wasEmpty := c.list.Len() == 0
	if err := c.list.Insert(index, items...); err != nil {
		return err
	}
	for k, item := range items {
		if err := c.engine.Insert(index+k, item); err != nil {
			return engineError("insert", err)
		}
	}
	c.publishList()

	switch {
	case c.pending != nil:
		p := c.pending
		c.pending = nil
		return c.restoreLocked(ctx, index, p)
	case wasEmpty:
		return c.openLocked(0, true)
	}
	return nil
}

func (c *Controller) restoreLocked(ctx context.Context, index int, p *pendingMove) error {
	if err := c.list.MoveTo(index); err != nil {
		return err
	}

	item, _ := c.list.At(index)
	settled := c.expectSettle(index, item.ID)
	if err := c.engine.SetCurrent(index); err != nil {
		c.clearSettle(settled)
		return engineError("set current", err)
	}
	if err := c.waitSettled(ctx, settled); err != nil {
		return err
	}

	if err := c.engine.Seek(p.position); err != nil {
		return engineError("seek", err)
	}
	var err error
	if p.resume {
		err = c.engine.Play()
	} else {
		err = c.engine.Pause()
	}
	if err != nil {
		return engineError("transport", err)
	}

	c.publishCurrent(p.position)
	return nil
}

// RemoveAt removes the item at index. Removing the playing item pauses the
// engine and saves its position for the next insertion; the engine is left
// paused at zero on the item that takes the index.
func (c *Controller) RemoveAt(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(index)
}

func (c *Controller) removeLocked(index int) error {
	if index < 0 || index >= c.list.Len() {
		return apperrors.NewOutOfRangeError(index, c.list.Len())
	}

	cur, _ := c.list.Current()
	removingCurrent := cur == index
	if removingCurrent {
		state := c.engine.State()
		c.pending = &pendingMove{
			resume:   state == EnginePlaying || state == EngineOpening,
			position: c.engine.Position(),
		}
		if err := c.engine.Pause(); err != nil {
			c.logger.Warn("Failed to pause before removal", zap.Error(err))
		}
	}

	if _, err := c.list.RemoveAt(index); err != nil {
		return err
	}
	if err := c.engine.RemoveAt(index); err != nil {
		return engineError("remove", err)
	}

	if c.list.Len() == 0 {
		c.pending = nil
		if err := c.engine.Stop(); err != nil {
			c.logger.Warn("Failed to stop engine", zap.Error(err))
		}
		c.publishList()
		c.publishStopped()
		return nil
	}

	c.publishList()
	if removingCurrent {
		next, _ := c.list.Current()
		if err := c.engine.SetCurrent(next); err != nil {
			return engineError("set current", err)
		}
		if err := c.engine.Pause(); err != nil {
			return engineError("pause", err)
		}
		c.publishCurrent(0)
	}
	return nil
}

// Move reorders one item. It is a removal followed by an insertion, so
// moving the playing item keeps its position.
func (c *Controller) Move(ctx context.Context, from, to int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.list.Len()
	if from < 0 || from >= n {
		return apperrors.NewOutOfRangeError(from, n)
	}
	if to < 0 || to >= n {
		return apperrors.NewOutOfRangeError(to, n)
	}
	if from == to {
		return nil
	}

	item, _ := c.list.At(from)
	if err := c.removeLocked(from); err != nil {
		return err
	}
	return c.insertLocked(ctx, to, []Item{item})
}

// MoveTo makes index the current item, starting from its beginning. A paused
// engine stays paused; otherwise playback continues.
func (c *Controller) MoveTo(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= c.list.Len() {
		return apperrors.NewOutOfRangeError(index, c.list.Len())
	}

	c.pending = nil
	paused := c.engine.State() == EnginePaused
	if err := c.list.MoveTo(index); err != nil {
		return err
	}
	return c.openLocked(index, !paused)
}

// Next skips forward. At the end of a non-repeating list playback stops.
func (c *Controller) Next(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.list.Len() == 0 {
		return emptyListError()
	}

	c.pending = nil
	next, ok := c.list.Next(false)
	if !ok {
		c.stopAtEndLocked()
		return nil
	}
	return c.openLocked(next, true)
}

// Previous skips back. At the start of a non-repeating list the current item
// restarts.
func (c *Controller) Previous(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.list.Len() == 0 {
		return emptyListError()
	}

	c.pending = nil
	cur, _ := c.list.Current()
	prev, _ := c.list.Previous()
	if prev == cur {
		if err := c.engine.Seek(0); err != nil {
			return engineError("seek", err)
		}
		return engineError("play", c.engine.Play())
	}
	return c.openLocked(prev, true)
}

// Play resumes the current item
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.list.Len() == 0 {
		return emptyListError()
	}
	return engineError("play", c.engine.Play())
}

// Pause pauses the current item
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.list.Len() == 0 {
		return nil
	}
	return engineError("pause", c.engine.Pause())
}

// Seek moves within the current item
func (c *Controller) Seek(position time.Duration) error {
	if position < 0 {
		return apperrors.NewValidationError("position cannot be negative")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.list.Len() == 0 {
		return emptyListError()
	}
	return engineError("seek", c.engine.Seek(position))
}

// Stop ends playback and clears the list
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = nil
	if err := c.engine.Stop(); err != nil {
		return engineError("stop", err)
	}
	if err := c.engine.Clear(); err != nil {
		return engineError("clear", err)
	}
	c.list.Clear()
	c.publishList()
	c.publishStopped()
	return nil
}

// SetShuffle toggles shuffled play order
func (c *Controller) SetShuffle(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.list.SetShuffle(enabled)
	c.persist("shuffle", func(s Settings) error { return s.SetShuffle(enabled) })
	c.publishList()
	return nil
}

// SetRepeatMode sets the repeat mode
func (c *Controller) SetRepeatMode(mode RepeatMode) error {
	if mode < RepeatNone || mode > RepeatSingle {
		return apperrors.NewValidationError(fmt.Sprintf("invalid repeat mode: %d", mode))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.list.SetRepeat(mode)
	c.persist("repeat", func(s Settings) error { return s.SetRepeat(mode.String()) })
	return nil
}

// SetVolume sets the volume, 0 to 100
func (c *Controller) SetVolume(volume int) error {
	if volume < 0 || volume > 100 {
		return apperrors.NewValidationError(fmt.Sprintf("volume must be between 0 and 100, got %d", volume))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.volume = volume
	c.engine.SetVolume(float64(volume) / 100)
	c.persist("volume", func(s Settings) error { return s.SetVolume(volume) })
	return nil
}

// SetMuted mutes or unmutes the engine
func (c *Controller) SetMuted(muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.muted = muted
	c.engine.SetMuted(muted)
	c.persist("muted", func(s Settings) error { return s.SetMuted(muted) })
	return nil
}

// Status returns the current state
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, _ := c.list.Current()
	return Status{
		Items:    c.list.Items(),
		Current:  cur,
		Shuffle:  c.list.Shuffle(),
		Repeat:   c.list.Repeat(),
		Volume:   c.volume,
		Muted:    c.muted,
		State:    c.engine.State(),
		Position: c.engine.Position(),
	}
}

// openLocked points the engine at index from its start, playing or paused
func (c *Controller) openLocked(index int, play bool) error {
	if err := c.engine.SetCurrent(index); err != nil {
		return engineError("set current", err)
	}
	var err error
	if play {
		err = c.engine.Play()
	} else {
		err = c.engine.Pause()
	}
	if err != nil {
		return engineError("transport", err)
	}
	c.publishCurrent(0)
	return nil
}

func (c *Controller) stopAtEndLocked() {
	if err := c.engine.Stop(); err != nil {
		c.logger.Warn("Failed to stop engine", zap.Error(err))
	}
	c.publishStopped()
}

func (c *Controller) persist(key string, fn func(Settings) error) {
	if c.settings == nil {
		return
	}
	if err := fn(c.settings); err != nil {
		c.logger.Warn("Failed to save playback setting",
			zap.String("key", key),
			zap.Error(err))
	}
}

// SettleTimeout returns how long a start waits for the engine
func (c *Controller) SettleTimeout() time.Duration {
	c.settleMu.Lock()
	defer c.settleMu.Unlock()
	return c.settleTimeout
}

// SetSettleTimeout changes the settle wait for later starts. A value that is
// not positive restores the default.
func (c *Controller) SetSettleTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultSettleTimeout
	}
	c.settleMu.Lock()
	c.settleTimeout = d
	c.settleMu.Unlock()
}

// expectSettle registers interest in the engine opening item id at index.
// It must be called before the engine is asked to move. Matching on the item
// keeps a late notification for whatever held the index before from counting.
func (c *Controller) expectSettle(index int, id string) chan struct{} {
	c.settleMu.Lock()
	defer c.settleMu.Unlock()

	ch := make(chan struct{})
	c.settleIndex = index
	c.settleID = id
	c.settleCh = ch
	return ch
}

func (c *Controller) markSettled(index int, id string) {
	c.settleMu.Lock()
	defer c.settleMu.Unlock()

	if c.settleCh != nil && c.settleIndex == index && c.settleID == id {
		close(c.settleCh)
		c.settleCh = nil
	}
}

func (c *Controller) clearSettle(ch chan struct{}) {
	c.settleMu.Lock()
	defer c.settleMu.Unlock()

	if c.settleCh == ch {
		c.settleCh = nil
	}
}

// waitSettled waits for the engine to report the expected item, at most the
// settle timeout. Timing out is not an error.
func (c *Controller) waitSettled(ctx context.Context, ch chan struct{}) error {
	timeout := c.SettleTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		c.clearSettle(ch)
		c.logger.Warn("Media engine did not settle in time",
			zap.Duration("timeout", timeout))
		return nil
	case <-ctx.Done():
		c.clearSettle(ch)
		return ctx.Err()
	}
}

func (c *Controller) publish(eventType events.Type, payload any) {
	if c.hub != nil {
		c.hub.Publish(eventType, payload)
	}
}

func (c *Controller) publishList() {
	cur, _ := c.list.Current()
	c.publish(events.PlaybackListChanged, ListChange{Items: c.list.Items(), Current: cur})
}

func (c *Controller) publishCurrent(position time.Duration) {
	cur, ok := c.list.Current()
	if !ok {
		return
	}
	item, _ := c.list.CurrentItem()
	c.publish(events.PlaybackCurrentChanged, CurrentChange{Index: cur, Item: item, Position: position})
}

func (c *Controller) publishStopped() {
	monitoring.RecordPlaybackEvent("stopped")
	c.publish(events.PlaybackStopped, nil)
}

func emptyListError() error {
	return apperrors.NewValidationError("playback list is empty")
}

// engineError wraps a media engine failure; nil stays nil
func engineError(op string, err error) error {
	if err == nil {
		return nil
	}
	return apperrors.NewProcessingError(fmt.Sprintf("media engine %s failed", op), err)
}
