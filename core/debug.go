package core

import "sync"

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// LogLevel orders log output by severity.
type LogLevel uint8

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelOff
)

func (l LogLevel) prefix() string {
	switch l {
	case LevelTrace:
		return "[TRC] "
	case LevelDebug:
		return "[DBG] "
	case LevelInfo:
		return "[INF] "
	case LevelWarning:
		return "[WRN] "
	case LevelError:
		return "[ERR] "
	}
	return ""
}

// BusEvent captures one bus-level event for post-mortem analysis.
type BusEvent struct {
	EventType uint8
	Slot      uint8  // bus registry slot
	Value1    uint32 // context-dependent
	Value2    uint32 // context-dependent
}

// Event type codes
const (
	EvtCommand      = 1 // command frame sent, v1=cmd v2=arg
	EvtResponse     = 2 // R1 received, v1=cmd v2=r1
	EvtDMAStart     = 3 // v1=len v2=channel mask
	EvtDMADone      = 4 // v1=len
	EvtDMATimeout   = 5 // v1=len
	EvtTokenTimeout = 6 // v1=block
	EvtRateChange   = 7 // v1=requested v2=actual
)

const (
	BusEventRingSize = 32
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled gates DebugPrintln. Leveled logging has its own threshold.
	debugEnabled bool = false

	logLevel = LevelInfo

	eventMu       sync.Mutex
	eventRing     [BusEventRingSize]BusEvent
	eventRingHead uint8
	eventsEnabled = true

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables raw debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// SetLogLevel sets the minimum level that reaches the writer.
func SetLogLevel(l LogLevel) {
	logLevel = l
}

// GetLogLevel returns the current threshold.
func GetLogLevel() LogLevel {
	return logLevel
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker()
}

func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
// Blocks if debug is enabled (use DebugAsync for non-blocking)
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output (non-blocking)
// Returns immediately even if channel is full (drops message)
func DebugAsync(msg string) {
	if debugChan != nil {
		select {
		case debugChan <- msg:
		default:
		}
	}
}

func logAt(l LogLevel, msg string) {
	if l < logLevel || debugPrintln == nil {
		return
	}
	line := l.prefix() + msg
	if debugChan != nil {
		DebugAsync(line)
		return
	}
	debugPrintln(line)
}

func LogTrace(msg string)   { logAt(LevelTrace, msg) }
func LogDebug(msg string)   { logAt(LevelDebug, msg) }
func LogInfo(msg string)    { logAt(LevelInfo, msg) }
func LogWarning(msg string) { logAt(LevelWarning, msg) }
func LogError(msg string)   { logAt(LevelError, msg) }

// RecordBusEvent captures an event in the ring buffer. Cheap and
// non-blocking apart from the ring mutex.
func RecordBusEvent(eventType, slot uint8, value1, value2 uint32) {
	if !eventsEnabled {
		return
	}
	eventMu.Lock()
	idx := eventRingHead
	eventRing[idx] = BusEvent{
		EventType: eventType,
		Slot:      slot,
		Value1:    value1,
		Value2:    value2,
	}
	eventRingHead = (idx + 1) % BusEventRingSize
	eventMu.Unlock()
}

// BusEvents returns the recorded events, oldest first.
func BusEvents() []BusEvent {
	eventMu.Lock()
	defer eventMu.Unlock()
	out := make([]BusEvent, 0, BusEventRingSize)
	start := eventRingHead
	for i := uint8(0); i < BusEventRingSize; i++ {
		evt := eventRing[(start+i)%BusEventRingSize]
		if evt.EventType == 0 {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// EventName returns a short label for an event type.
func EventName(t uint8) string {
	switch t {
	case EvtCommand:
		return "CMD"
	case EvtResponse:
		return "RESP"
	case EvtDMAStart:
		return "DMA_START"
	case EvtDMADone:
		return "DMA_DONE"
	case EvtDMATimeout:
		return "DMA_TIMEOUT!"
	case EvtTokenTimeout:
		return "TOKEN_TIMEOUT!"
	case EvtRateChange:
		return "RATE"
	}
	return "UNKNOWN"
}

// DumpBusEvents writes the ring to the debug writer (call on error).
func DumpBusEvents() {
	if debugPrintln == nil {
		return
	}
	debugPrintln("[BUS] === Event Ring Dump ===")
	for _, evt := range BusEvents() {
		debugPrintln("[BUS] " + EventName(evt.EventType) +
			" slot=" + itoa(int(evt.Slot)) +
			" v1=" + hex32(evt.Value1) +
			" v2=" + hex32(evt.Value2))
	}
	debugPrintln("[BUS] === End Dump ===")
}

// ClearBusEvents empties the ring.
func ClearBusEvents() {
	eventMu.Lock()
	for i := range eventRing {
		eventRing[i] = BusEvent{}
	}
	eventRingHead = 0
	eventMu.Unlock()
}
