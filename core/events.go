package core

import (
	"gopwm/protocol"
	"gopwm/pwm"
)

// eventQueueSize must be a power of two.
const eventQueueSize = 32

// PWMEvent is one wrap interrupt delivered by the dispatcher.
type PWMEvent struct {
	Channel pwm.ChannelNumber
	Count   uint32 // fires of Channel since the queue was created
}

// EventQueue carries interrupt events from the PWM handler to the main loop.
// Fired runs in interrupt context and never blocks: when the ring is full the
// event is counted in Dropped and discarded. Pop is called from the main loop
// only.
type EventQueue struct {
	ring    [eventQueueSize]PWMEvent
	head    uint32 // next write, owned by Fired
	tail    uint32 // next read, owned by Pop
	counts  [pwm.NumChannels]uint32
	dropped uint32
}

// NewEventQueue returns an empty queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{}
}

// Fired implements pwm.Handler.
func (q *EventQueue) Fired(ch pwm.ChannelNumber) {
	q.counts[ch]++
	if q.head-q.tail == eventQueueSize {
		q.dropped++
		return
	}
	q.ring[q.head%eventQueueSize] = PWMEvent{Channel: ch, Count: q.counts[ch]}
	q.head++
}

// Pop removes the oldest event.
func (q *EventQueue) Pop() (PWMEvent, bool) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if q.tail == q.head {
		return PWMEvent{}, false
	}
	ev := q.ring[q.tail%eventQueueSize]
	q.tail++
	return ev, true
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return int(q.head - q.tail)
}

// Dropped returns how many events were lost to a full ring.
func (q *EventQueue) Dropped() uint32 {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return q.dropped
}

var pwmEvents = NewEventQueue()

// PWMEvents returns the queue registered as the driver's interrupt handler.
func PWMEvents() *EventQueue {
	return pwmEvents
}

// FlushPWMEvents sends one pwm_fired per queued event. Call it from the main
// loop.
func FlushPWMEvents() int {
	n := 0
	for {
		ev, ok := pwmEvents.Pop()
		if !ok {
			return n
		}
		SendResponse("pwm_fired", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(ev.Channel))
			protocol.EncodeVLQUint(output, ev.Count)
		})
		n++
	}
}
