package core

import (
	"errors"
	"sync"
)

// CommandHandler is a function that handles a command with raw frame data.
// The handler decodes its own arguments from the data pointer. Responses
// (messages sent the other way) are registered with a nil handler.
type CommandHandler func(data *[]byte) error

// Command is one entry of a bridge message table
type Command struct {
	ID      uint16
	Name    string
	Format  string // Format string for dictionary (e.g., "oid=%c pin=%u")
	Handler CommandHandler
}

// CommandRegistry holds all registered commands
type CommandRegistry struct {
	mu         sync.RWMutex
	commands   map[uint16]*Command
	nameToID   map[string]uint16
	nextID     uint16
	dictionary string // one "name format" line per message, in ID order
}

// NewCommandRegistry creates a new command registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[uint16]*Command),
		nameToID: make(map[string]uint16),
		nextID:   0,
	}
}

// Register adds a command to the registry
func (r *CommandRegistry) Register(name string, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check if already registered
	if id, exists := r.nameToID[name]; exists {
		return id
	}

	id := r.nextID
	r.nextID++

	cmd := &Command{
		ID:      id,
		Name:    name,
		Format:  format,
		Handler: handler,
	}

	r.commands[id] = cmd
	r.nameToID[name] = id

	// Rebuild dictionary
	r.rebuildDictionary()

	return id
}

// GetCommand retrieves a command by ID
func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

// GetCommandByName retrieves a command by name
func (r *CommandRegistry) GetCommandByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	if !ok {
		return nil, false
	}
	return r.commands[id], true
}

// SetHandler attaches a handler to an already registered message, so both
// ends of a link can share one table and install only their own side.
func (r *CommandRegistry) SetHandler(name string, handler CommandHandler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.nameToID[name]
	if !ok {
		return false
	}
	r.commands[id].Handler = handler
	return true
}

// Count returns the number of registered commands
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch calls the appropriate command handler
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok {
		return errors.New("unknown command ID: " + itoa(int(cmdID)))
	}

	if cmd.Handler == nil {
		return errors.New("no handler for " + cmd.Name)
	}
	return cmd.Handler(data)
}

// GetDictionary returns the command dictionary string
func (r *CommandRegistry) GetDictionary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dictionary
}

// rebuildDictionary rebuilds the dictionary string
// Must be called with lock held
func (r *CommandRegistry) rebuildDictionary() {
	dict := ""
	for i := uint16(0); i < r.nextID; i++ {
		if cmd, ok := r.commands[i]; ok {
			if cmd.Format != "" {
				dict += cmd.Name + " " + cmd.Format + "\n"
			} else {
				dict += cmd.Name + "\n"
			}
		}
	}
	r.dictionary = dict
}
