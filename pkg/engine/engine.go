package engine

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/dougsko/asiod/pkg/asio"
	"github.com/dougsko/asiod/pkg/config"
	"github.com/dougsko/asiod/pkg/logging"
	"github.com/dougsko/asiod/pkg/monitor"
	"github.com/dougsko/asiod/pkg/protocol"
	"github.com/dougsko/asiod/pkg/storage"
)

// Version is reported by STATUS
const Version = "0.1.0"

const recentEventLimit = 256

// CoreEngine owns the ASIO host session and its one stream. It serves the
// control socket, drains relayed driver events into the log, the journal and
// subscribers, and reopens the stream when the driver asks for a reset.
type CoreEngine struct {
	config     *config.Config
	socketPath string
	listener   net.Listener
	startTime  time.Time

	mu        sync.RWMutex
	running   bool
	host      *asio.HostAPI
	drivers   []asio.Driver
	stream    *asio.Stream
	sessionID int64
	resets    int
	relayed   uint64
	recent    []EventNotice

	store   *storage.EventStore
	monitor *monitor.LevelMonitor
	tone    *toneGenerator
	counts  *kindCounters

	subMu       sync.Mutex
	subscribers map[int]chan Notification
	nextSub     int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCoreEngine creates an engine over drivers. store may be nil, in which
// case only the most recent events are kept in memory.
func NewCoreEngine(cfg *config.Config, socketPath string, drivers []asio.Driver, store *storage.EventStore) *CoreEngine {
	return &CoreEngine{
		config:      cfg,
		socketPath:  socketPath,
		startTime:   time.Now(),
		drivers:     drivers,
		store:       store,
		monitor:     monitor.NewLevelMonitor(48000, cfg.Monitor.FFTSize),
		tone:        newToneGenerator(cfg.Stream.ToneFrequency, cfg.Stream.ToneLevel),
		counts:      &kindCounters{},
		subscribers: make(map[int]chan Notification),
		stopCh:      make(chan struct{}),
	}
}

// Start loads the drivers, opens the configured stream and begins serving
// the control socket
func (e *CoreEngine) Start() error {
	e.mu.Lock()
	e.host = asio.NewHostAPI(e.drivers...)
	e.running = true
	err := e.openStreamLocked()
	if err == nil && e.config.Stream.AutoStart {
		err = e.stream.Start()
	}
	e.mu.Unlock()
	if err != nil {
		e.host.Terminate()
		return fmt.Errorf("failed to open stream: %w", err)
	}

	if e.socketPath != "" {
		os.Remove(e.socketPath)
		listener, err := net.Listen("unix", e.socketPath)
		if err != nil {
			e.host.Terminate()
			return fmt.Errorf("failed to create Unix socket: %w", err)
		}
		e.listener = listener
		if err := os.Chmod(e.socketPath, 0660); err != nil {
			logging.Warn("engine", fmt.Sprintf("Failed to set socket permissions: %v", err))
		}
		logging.Info("engine", fmt.Sprintf("Core engine listening on %s", e.socketPath))

		e.wg.Add(1)
		go e.acceptConnections()
	}

	e.wg.Add(1)
	go e.eventPump()

	return nil
}

// Stop closes the stream, the host session and the socket
func (e *CoreEngine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopCh)
	if e.listener != nil {
		e.listener.Close()
	}
	e.wg.Wait()

	e.mu.Lock()
	e.closeStreamLocked("shutdown")
	err := e.host.Terminate()
	e.mu.Unlock()

	e.subMu.Lock()
	for id, ch := range e.subscribers {
		close(ch)
		delete(e.subscribers, id)
	}
	e.subMu.Unlock()

	if e.socketPath != "" {
		os.Remove(e.socketPath)
	}
	return err
}

func (e *CoreEngine) isRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *CoreEngine) acceptConnections() {
	defer e.wg.Done()
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if e.isRunning() {
				logging.Error("engine", fmt.Sprintf("Socket accept error: %v", err))
				continue
			}
			return
		}
		go e.handleConnection(conn)
	}
}

func (e *CoreEngine) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			response := protocol.NewErrorResponse(fmt.Sprintf("parse error: %v", err))
			conn.Write([]byte(response.String() + "\n"))
			continue
		}

		response := e.HandleCommand(cmd)
		conn.Write([]byte(response.String() + "\n"))

		if cmd.Type == protocol.CmdQuit {
			return
		}
	}
}

// Monitor exposes the level monitor fed by the render callback
func (e *CoreEngine) Monitor() *monitor.LevelMonitor {
	return e.monitor
}

// Store is the event journal, or nil
func (e *CoreEngine) Store() *storage.EventStore {
	return e.store
}

// Config returns the engine configuration
func (e *CoreEngine) Config() *config.Config {
	return e.config
}
