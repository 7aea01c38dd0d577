// internal/catalog/catalog.go
// Durable room records with CRUD, distinct from the hub's ephemeral
// membership index. The catalog decides whether a join is permitted; the hub
// decides who currently receives a room's messages.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chilts/sid"

	"github.com/cardroom/switchboard/internal/logger"
	"github.com/cardroom/switchboard/internal/util"
)

const (
	TypePublic  = "public"
	TypePrivate = "private"

	maxNameLength = 64
)

// ErrNotFound is returned for lookups of unknown room ids.
var ErrNotFound = errors.New("room not found")

// Room is a durable catalog record.
type Room struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Members   []string `json:"members,omitempty"`
	CreatedOn string   `json:"created_on"`
}

// Catalog is a JSON-file-backed room store. Every mutation is written
// through to the file; the file is created on the first save.
type Catalog struct {
	mu     sync.RWMutex
	path   string
	rooms  map[string]Room
	logger *logger.Logger
}

// New opens the catalog at path, loading existing records if the file exists.
func New(path string, logger *logger.Logger) (*Catalog, error) {
	c := &Catalog{
		path:   path,
		rooms:  make(map[string]Room),
		logger: logger,
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) load() error {
	var rooms map[string]Room
	if err := util.LoadJSON(c.path, &rooms); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("unable to load room catalog %s: %w", c.path, err)
	}
	if rooms != nil {
		c.rooms = rooms
	}
	c.logger.Infof("Loaded %d rooms from %s", len(c.rooms), c.path)
	return nil
}

func (c *Catalog) saveLocked() error {
	if err := util.WriteJSON(c.path, c.rooms); err != nil {
		return fmt.Errorf("unable to save room catalog %s: %w", c.path, err)
	}
	return nil
}

func validateRoom(name, roomType string) error {
	if len(name) < 1 || len(name) > maxNameLength {
		return fmt.Errorf("invalid room name: must be 1-%d characters", maxNameLength)
	}
	if roomType != TypePublic && roomType != TypePrivate {
		return fmt.Errorf("invalid room type %q: must be %q or %q", roomType, TypePublic, TypePrivate)
	}
	return nil
}

// Create adds a new room and assigns it a sortable id.
func (c *Catalog) Create(name, roomType string, members []string) (Room, error) {
	name = strings.TrimSpace(name)
	if err := validateRoom(name, roomType); err != nil {
		return Room{}, err
	}

	room := Room{
		ID:        sid.IdBase64(),
		Name:      name,
		Type:      roomType,
		Members:   members,
		CreatedOn: time.Now().UTC().Format(time.RFC3339),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room.ID] = room
	if err := c.saveLocked(); err != nil {
		delete(c.rooms, room.ID)
		return Room{}, err
	}
	c.logger.Infof("Created room %s (%s)", room.Name, room.ID)
	return room, nil
}

// Get returns the room with the given id.
func (c *Catalog) Get(id string) (Room, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	room, ok := c.rooms[id]
	if !ok {
		return Room{}, ErrNotFound
	}
	return room, nil
}

// List returns every room ordered by id, which sorts by creation time.
func (c *Catalog) List() []Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}

// Update replaces the mutable fields of an existing room.
func (c *Catalog) Update(id, name, roomType string, members []string) (Room, error) {
	name = strings.TrimSpace(name)
	if err := validateRoom(name, roomType); err != nil {
		return Room{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	room, ok := c.rooms[id]
	if !ok {
		return Room{}, ErrNotFound
	}

	previous := room
	room.Name = name
	room.Type = roomType
	room.Members = members
	c.rooms[id] = room
	if err := c.saveLocked(); err != nil {
		c.rooms[id] = previous
		return Room{}, err
	}
	return room, nil
}

// Delete removes the room with the given id.
func (c *Catalog) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	room, ok := c.rooms[id]
	if !ok {
		return ErrNotFound
	}

	delete(c.rooms, id)
	if err := c.saveLocked(); err != nil {
		c.rooms[id] = room
		return err
	}
	c.logger.Infof("Deleted room %s (%s)", room.Name, id)
	return nil
}

// CanJoin reports whether username may join the room: public rooms admit
// anyone, private rooms only their listed members.
func (c *Catalog) CanJoin(id, username string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	room, ok := c.rooms[id]
	if !ok {
		return false, ErrNotFound
	}
	if room.Type == TypePublic {
		return true, nil
	}
	for _, member := range room.Members {
		if member == username {
			return true, nil
		}
	}
	return false, nil
}
