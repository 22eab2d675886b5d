// Package undo issues and redeems short-lived undo tokens. A token is an
// opaque reference to captured snapshots; redeeming it writes the captured
// state back through the engine. Tokens are single-use and expire absolutely.
package undo

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"todome/internal/domain"
	"todome/internal/engine"
	"todome/internal/snapshot"
	"todome/internal/tokenstore"
)

const DefaultTTL = 60 * time.Second

// Operation kinds a token can be issued for.
const (
	KindTaskUpdate       = "task-update"
	KindTaskDelete       = "task-delete"
	KindTaskStatusChange = "task-status-change"
	KindTaskBatch        = "task-batch"
	KindProjectUpdate    = "project-update"
	KindProjectDelete    = "project-delete"
	KindProjectArchive   = "project-archive"
)

var (
	// ErrTokenNotFound covers never-issued, expired, and already-consumed
	// tokens alike; callers cannot tell these apart.
	ErrTokenNotFound = errors.New("undo token not found")
	// ErrPermissionDenied means the token exists but belongs to someone
	// else. The token is burned either way.
	ErrPermissionDenied = errors.New("undo token belongs to another user")
)

func ValidKind(kind string) bool {
	switch kind {
	case KindTaskUpdate, KindTaskDelete, KindTaskStatusChange, KindTaskBatch,
		KindProjectUpdate, KindProjectDelete, KindProjectArchive:
		return true
	}
	return false
}

// kindAccepts reports whether an operation kind may carry a snapshot entry
// of the given kind.
func kindAccepts(kind, entryKind string) bool {
	switch kind {
	case KindTaskUpdate, KindTaskDelete:
		return entryKind == snapshot.KindTask
	case KindTaskStatusChange:
		return entryKind == snapshot.KindTaskStatus
	case KindProjectUpdate, KindProjectDelete, KindProjectArchive:
		return entryKind == snapshot.KindProject
	case KindTaskBatch:
		return entryKind == snapshot.KindTask || entryKind == snapshot.KindTaskStatus || entryKind == snapshot.KindTaskCreated
	}
	return false
}

// Service is the undo ledger. It owns token issuance, lookup, and redemption;
// actual state rewrites go through the engine's restore primitives.
type Service struct {
	Store  tokenstore.Store
	Engine engine.Engine
	TTL    time.Duration
	Log    *slog.Logger
}

func NewService(store tokenstore.Store, eng engine.Engine, ttl time.Duration) *Service {
	return &Service{Store: store, Engine: eng, TTL: ttl, Log: slog.Default()}
}

func (s *Service) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultTTL
}

func (s *Service) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Token is the caller-visible view of an issued token. The snapshot payload
// stays opaque.
type Token struct {
	ID        string    `json:"token"`
	Kind      string    `json:"operationKind"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type tokenPayload struct {
	OwnerID string           `json:"ownerId"`
	Kind    string           `json:"kind"`
	Entries []snapshot.Entry `json:"entries"`
}

// CreateToken captures snapshots under a fresh token id. Non-batch kinds
// carry exactly one entry; task-batch carries one per successful batch entry.
func (s *Service) CreateToken(ctx context.Context, kind, ownerID string, entries []snapshot.Entry) (Token, error) {
	if !ValidKind(kind) {
		return Token{}, fmt.Errorf("unknown undo operation kind %q", kind)
	}
	if ownerID == "" {
		return Token{}, errors.New("undo token needs an owner")
	}
	if len(entries) == 0 {
		return Token{}, fmt.Errorf("undo token kind %s needs at least one snapshot", kind)
	}
	if kind != KindTaskBatch && len(entries) != 1 {
		return Token{}, fmt.Errorf("undo token kind %s carries exactly one snapshot, got %d", kind, len(entries))
	}
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return Token{}, err
		}
		if !kindAccepts(kind, entry.Kind) {
			return Token{}, fmt.Errorf("undo token kind %s cannot carry a %s snapshot", kind, entry.Kind)
		}
	}

	raw, err := json.Marshal(tokenPayload{OwnerID: ownerID, Kind: kind, Entries: entries})
	if err != nil {
		return Token{}, err
	}
	id, err := newTokenID()
	if err != nil {
		return Token{}, err
	}
	stored, err := s.Store.Put(ctx, id, string(raw), s.ttl())
	if err != nil {
		return Token{}, err
	}
	return Token{ID: id, Kind: kind, CreatedAt: stored.CreatedAt, ExpiresAt: stored.ExpiresAt}, nil
}

// PeekToken reveals a token's kind and lifecycle stamps without consuming it.
func (s *Service) PeekToken(ctx context.Context, tokenID string) (Token, error) {
	stored, ok, err := s.Store.Get(ctx, tokenID)
	if err != nil {
		return Token{}, err
	}
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	var p tokenPayload
	if err := json.Unmarshal([]byte(stored.Payload), &p); err != nil {
		return Token{}, fmt.Errorf("undo token %s payload: %w", tokenID, err)
	}
	return Token{ID: tokenID, Kind: p.Kind, CreatedAt: stored.CreatedAt, ExpiresAt: stored.ExpiresAt}, nil
}

// Result is what an executed undo restored.
type Result struct {
	Kind           string           `json:"operationKind"`
	Tasks          []domain.Task    `json:"tasks,omitempty"`
	Projects       []domain.Project `json:"projects,omitempty"`
	RemovedTaskIDs []string         `json:"removedTaskIds,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
}

// ExecuteUndo consumes the token and writes its snapshots back. The consume
// happens first and is atomic in the store, so concurrent redeemers of one
// token see exactly one success. An owner mismatch burns the token without
// restoring anything.
func (s *Service) ExecuteUndo(ctx context.Context, ownerID, tokenID string) (Result, error) {
	stored, ok, err := s.Store.Consume(ctx, tokenID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrTokenNotFound
	}
	var p tokenPayload
	if err := json.Unmarshal([]byte(stored.Payload), &p); err != nil {
		return Result{}, fmt.Errorf("undo token %s payload: %w", tokenID, err)
	}
	if p.OwnerID != ownerID {
		s.logger().Warn("undo token redeemed by wrong owner", "kind", p.Kind)
		return Result{}, ErrPermissionDenied
	}

	res := Result{Kind: p.Kind}
	// Entries unwind newest first so later mutations of the same entity
	// roll back before earlier ones.
	strict := p.Kind != KindTaskBatch
	for i := len(p.Entries) - 1; i >= 0; i-- {
		if err := s.restoreEntry(ctx, ownerID, p.Entries[i], &res); err != nil {
			if strict {
				return Result{}, err
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf("batch entry %d was not restored: %v", i, err))
		}
	}
	s.logger().Info("undo executed", "kind", p.Kind,
		"tasks", len(res.Tasks), "projects", len(res.Projects),
		"removed", len(res.RemovedTaskIDs), "warnings", len(res.Warnings))
	return res, nil
}

func (s *Service) restoreEntry(ctx context.Context, ownerID string, entry snapshot.Entry, res *Result) error {
	switch entry.Kind {
	case snapshot.KindTask:
		t, err := s.Engine.RestoreTask(ctx, ownerID, *entry.Task)
		if err != nil {
			return err
		}
		res.Tasks = append(res.Tasks, t)
	case snapshot.KindTaskStatus:
		t, warnings, err := s.Engine.RestoreTaskStatus(ctx, ownerID, *entry.TaskStatus)
		if err != nil {
			return err
		}
		res.Tasks = append(res.Tasks, t)
		res.Warnings = append(res.Warnings, warnings...)
	case snapshot.KindTaskCreated:
		if err := s.Engine.RemoveTask(ctx, ownerID, entry.TaskCreated.TaskID); err != nil {
			return err
		}
		res.RemovedTaskIDs = append(res.RemovedTaskIDs, entry.TaskCreated.TaskID)
	case snapshot.KindProject:
		p, err := s.Engine.RestoreProject(ctx, ownerID, *entry.Project)
		if err != nil {
			return err
		}
		res.Projects = append(res.Projects, p)
	default:
		return fmt.Errorf("unknown snapshot entry kind %q", entry.Kind)
	}
	return nil
}

// newTokenID draws an unguessable token id from the system entropy source.
func newTokenID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
