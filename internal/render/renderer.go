package render

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Frame is one rendered update for a display node.
type Frame struct {
	Node      string `json:"node"`
	Text      string `json:"text"`
	Animating bool   `json:"animating"`
}

// FrameFunc receives rendered frames. Called from the renderer goroutine.
type FrameFunc func(Frame)

// Renderer owns one animator per display node and advances all of them on
// a shared tick, emitting a frame whenever a node's text changes. Nodes
// are created on first update and re-targeted afterwards.
type Renderer struct {
	mu        sync.Mutex
	animators map[string]*Animator
	order     []string // creation order, for deterministic stepping

	interval    time.Duration
	deleteBatch int
	insertBatch int
	emit        FrameFunc
	log         zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewRenderer creates a renderer emitting frames via emit every interval.
func NewRenderer(interval time.Duration, emit FrameFunc, log zerolog.Logger) *Renderer {
	if interval <= 0 {
		interval = 40 * time.Millisecond
	}
	return &Renderer{
		animators:   make(map[string]*Animator),
		interval:    interval,
		deleteBatch: DefaultDeleteBatch,
		insertBatch: DefaultInsertBatch,
		emit:        emit,
		log:         log.With().Str("component", "renderer").Logger(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Update re-targets the node's animator, creating it on first use. A
// complete update snaps to the target and emits the final frame at once.
func (r *Renderer) Update(node, text string, complete bool) {
	r.mu.Lock()
	a, ok := r.animators[node]
	if !ok {
		a = NewAnimator(r.deleteBatch, r.insertBatch)
		r.animators[node] = a
		r.order = append(r.order, node)
	}
	before := a.Displayed()
	a.Retarget(text, complete)
	after := a.Displayed()
	idle := a.Idle()
	r.mu.Unlock()

	// Snap commits (complete targets, no-op scripts) don't wait for a tick.
	if idle && after != before {
		r.emit(Frame{Node: node, Text: after, Animating: false})
	}
}

// Drop removes a node's animator. Used when a session resets.
func (r *Renderer) Drop(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.animators[node]; !ok {
		return
	}
	delete(r.animators, node)
	for i, n := range r.order {
		if n == node {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Start launches the tick loop. Stop waits for it to exit, so no frame is
// emitted after Stop returns.
func (r *Renderer) Start() {
	go r.run()
}

// Stop halts the tick loop and waits for it to finish.
func (r *Renderer) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Renderer) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Debug().Dur("interval", r.interval).Msg("renderer started")
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			for _, f := range r.tick() {
				r.emit(f)
			}
		}
	}
}

// tick advances every animator one step and collects changed frames.
func (r *Renderer) tick() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	var frames []Frame
	for _, node := range r.order {
		a := r.animators[node]
		if a.Step() {
			frames = append(frames, Frame{Node: node, Text: a.Displayed(), Animating: !a.Idle()})
		}
	}
	return frames
}
