package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/rehaani/mediconnect/internal/rtdb"
)

var (
	ErrNotFound    = errors.New("room not found")
	ErrIDExhausted = errors.New("could not find a free room id")
	ErrInvalidID   = errors.New("invalid room id")
	ErrNoOffer     = errors.New("room has no offer")
)

const maxReserveTries = 5

// Reserve picks a fresh id and creates rooms/{id} with {ended:false}. The
// create is conditional, so two offerers can never share an id.
func Reserve(ctx context.Context, store rtdb.Store, idLength int) (string, error) {
	for range maxReserveTries {
		id, err := GenerateID(idLength)
		if err != nil {
			return "", err
		}
		err = Claim(ctx, store, id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, rtdb.ErrExists) {
			return "", err
		}
		slog.Debug("room id collision", "room", id)
	}
	return "", ErrIDExhausted
}

// Propose picks an id that is free right now without writing anything.
// Claim must still be used to take it.
func Propose(ctx context.Context, store rtdb.Store, idLength int) (string, error) {
	for range maxReserveTries {
		id, err := GenerateID(idLength)
		if err != nil {
			return "", err
		}
		snap, err := store.Get(ctx, Path(id))
		if err != nil {
			return "", fmt.Errorf("read room: %w", err)
		}
		if !snap.Exists() {
			return id, nil
		}
		slog.Debug("room id in use", "room", id)
	}
	return "", ErrIDExhausted
}

// Claim creates rooms/{id} with {ended:false}, failing with rtdb.ErrExists
// if someone else holds it.
func Claim(ctx context.Context, store rtdb.Store, id string) error {
	if err := store.Create(ctx, Path(id), Room{Ended: false}); err != nil {
		if errors.Is(err, rtdb.ErrExists) {
			return err
		}
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

// Load reads the room once. A missing room returns ErrNotFound.
func Load(ctx context.Context, store rtdb.Store, id string) (*Room, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	snap, err := store.Get(ctx, Path(id))
	if err != nil {
		return nil, fmt.Errorf("read room: %w", err)
	}
	if !snap.Exists() {
		return nil, ErrNotFound
	}
	var r Room
	if err := snap.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}
	return &r, nil
}

// PublishDescription writes a side's description without touching the rest
// of the room. Candidates may already be present. A room that has been
// deleted is not recreated; ErrNotFound is returned instead.
func PublishDescription(ctx context.Context, store rtdb.Store, id string, s Side, d SessionDescription) error {
	fields := map[string]any{string(s): d}
	if s == Offer {
		fields["ended"] = false
	}
	return updateRoom(ctx, store, id, fields)
}

// PublishCandidate adds one candidate under a random key, unless the room
// is gone.
func PublishCandidate(ctx context.Context, store rtdb.Store, id string, s Side, c Candidate) error {
	return updateRoom(ctx, store, id, map[string]any{
		rtdb.Join(candidatesField(s), uuid.NewString()): c,
	})
}

// MarkEnded sets ended:true so observers see termination before the delete.
func MarkEnded(ctx context.Context, store rtdb.Store, id string) error {
	return updateRoom(ctx, store, id, map[string]any{"ended": true})
}

func updateRoom(ctx context.Context, store rtdb.Store, id string, fields map[string]any) error {
	err := store.UpdateExisting(ctx, Path(id), fields)
	if errors.Is(err, rtdb.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Remove deletes the whole room.
func Remove(ctx context.Context, store rtdb.Store, id string) error {
	return store.Delete(ctx, Path(id))
}

// Close runs the two-step teardown: mark ended, then delete. A room that is
// already gone is not an error.
func Close(ctx context.Context, store rtdb.Store, id string) error {
	if err := MarkEnded(ctx, store, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return errors.Join(err, Remove(ctx, store, id))
	}
	return Remove(ctx, store, id)
}

// DecodeCandidates reads every record in a candidates collection snapshot.
// Keys are returned so the reader can delete what it consumed.
func DecodeCandidates(snap rtdb.Snapshot) (map[string]Candidate, error) {
	out := make(map[string]Candidate)
	for _, k := range snap.Children() {
		var c Candidate
		if err := snap.Child(k).Decode(&c); err != nil {
			return nil, fmt.Errorf("decode candidate %s: %w", k, err)
		}
		out[k] = c
	}
	return out, nil
}
