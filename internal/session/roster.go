// Package session owns the collection of active peer sessions: admission,
// controller arbitration, and coordinated shutdown (§4.2).
package session

import (
	"errors"
	"sync"

	"github.com/lqmydesk/agent/internal/auth"
	"github.com/lqmydesk/agent/internal/peersession"
)

// ActiveSession is one admitted viewer (§3).
type ActiveSession struct {
	PeerUUID     string
	DeviceSerial string
	DeviceName   string
	Category     auth.Category
	Peer         *peersession.PeerSession
	IssuedJWT    string
	Quality      string
}

var (
	ErrRosterFull     = errors.New("session: roster full")
	ErrDuplicatePeer  = errors.New("session: peer_uuid already present")
	ErrControllerHeld = errors.New("session: controller already set")
)

const noController = -1

// Roster is the capacity-bounded ordered collection of ActiveSessions and
// the single controller_index pointer (I1, I2, I3).
type Roster struct {
	mu              sync.Mutex
	capacity        int
	sessions        []*ActiveSession
	controllerIndex int
}

func NewRoster(capacity int) *Roster {
	if capacity <= 0 {
		capacity = 1
	}
	return &Roster{capacity: capacity, controllerIndex: noController}
}

func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Roster) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions) >= r.capacity
}

// Insert appends s, rejecting it if the roster is full (I3) or the
// peer_uuid is already present (I2).
func (r *Roster) Insert(s *ActiveSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.capacity {
		return ErrRosterFull
	}
	for _, existing := range r.sessions {
		if existing.PeerUUID == s.PeerUUID {
			return ErrDuplicatePeer
		}
	}
	r.sessions = append(r.sessions, s)
	return nil
}

// Remove drops the session with peer_uuid uuid, adjusting controller_index
// to preserve I1 when the removed entry precedes or is the controller.
func (r *Roster) Remove(uuid string) (*ActiveSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOfLocked(uuid)
	if idx < 0 {
		return nil, false
	}
	removed := r.sessions[idx]
	r.sessions = append(r.sessions[:idx], r.sessions[idx+1:]...)

	switch {
	case r.controllerIndex == noController:
	case r.controllerIndex == idx:
		r.controllerIndex = noController
	case r.controllerIndex > idx:
		r.controllerIndex--
	}
	return removed, true
}

func (r *Roster) Lookup(uuid string) (*ActiveSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexOfLocked(uuid)
	if idx < 0 {
		return nil, false
	}
	return r.sessions[idx], true
}

func (r *Roster) indexOfLocked(uuid string) int {
	for i, s := range r.sessions {
		if s.PeerUUID == uuid {
			return i
		}
	}
	return -1
}

// Snapshot returns a defensive copy of the current roster order.
func (r *Roster) Snapshot() []*ActiveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ActiveSession, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// ControllerUUID returns the peer_uuid of the current controller, if any.
func (r *Roster) ControllerUUID() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.controllerIndex == noController {
		return "", false
	}
	return r.sessions[r.controllerIndex].PeerUUID, true
}

// ClaimController sets controller_index to uuid's position, failing if a
// controller is already set (§4.2's `control` handling).
func (r *Roster) ClaimController(uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.controllerIndex != noController {
		return ErrControllerHeld
	}
	idx := r.indexOfLocked(uuid)
	if idx < 0 {
		return ErrDuplicatePeer // unknown peer_uuid: nothing to claim
	}
	r.controllerIndex = idx
	return nil
}

// IsController reports whether uuid currently holds control.
func (r *Roster) IsController(uuid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.controllerIndex == noController {
		return false
	}
	return r.sessions[r.controllerIndex].PeerUUID == uuid
}

// ResetController clears controller_index unconditionally, returning the
// peer_uuid that held it, if any.
func (r *Roster) ResetController() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.controllerIndex == noController {
		return "", false
	}
	uuid := r.sessions[r.controllerIndex].PeerUUID
	r.controllerIndex = noController
	return uuid, true
}
