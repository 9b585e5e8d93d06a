package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"flame_academy/internal/domain"
	"flame_academy/internal/plan"
)

const snapshotDir = "plans"

var ErrPathEscapesRoot = errors.New("path escapes snapshot root")

type ChangeLogger interface {
	LogDecision(ctx context.Context, entry domain.DecisionLog) error
}

// Gateway reads and writes plan snapshots below a root directory.
type Gateway struct {
	fs     afero.Fs
	logger ChangeLogger
}

// NewGateway roots the gateway at root inside fsys. logger may be nil.
func NewGateway(fsys afero.Fs, root string, logger ChangeLogger) (*Gateway, error) {
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create root path: %w", err)
	}
	return &Gateway{
		fs:     afero.NewBasePathFs(fsys, root),
		logger: logger,
	}, nil
}

// WritePlan stores the snapshot as plans/<id>.<ext> and returns that path.
func (g *Gateway) WritePlan(ctx context.Context, snap plan.Snapshot, format plan.Format) (string, error) {
	if snap.ID == "" {
		return "", errors.New("snapshot plan id is required")
	}
	normalized, err := resolve(path.Join(snapshotDir, snap.ID+format.Ext()))
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := plan.EncodeSnapshot(&buf, snap, format); err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := g.fs.MkdirAll(filepath.FromSlash(snapshotDir), 0o755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := afero.WriteFile(g.fs, filepath.FromSlash(normalized), buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	if err := g.log(ctx, snap.ID, "plan_exported", normalized, format); err != nil {
		return normalized, fmt.Errorf("log snapshot write: %w", err)
	}
	return normalized, nil
}

// ReadPlan loads a snapshot. The format follows the file extension.
func (g *Gateway) ReadPlan(ctx context.Context, relPath string) (plan.Snapshot, error) {
	normalized, err := resolve(relPath)
	if err != nil {
		return plan.Snapshot{}, err
	}
	content, err := afero.ReadFile(g.fs, filepath.FromSlash(normalized))
	if err != nil {
		return plan.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	format := plan.FormatFromPath(normalized)
	snap, err := plan.DecodeSnapshot(bytes.NewReader(content), format)
	if err != nil {
		return plan.Snapshot{}, err
	}
	if err := g.log(ctx, snap.ID, "plan_imported", normalized, format); err != nil {
		return snap, fmt.Errorf("log snapshot read: %w", err)
	}
	return snap, nil
}

// ListSnapshots returns snapshot paths in lexical order.
func (g *Gateway) ListSnapshots() ([]string, error) {
	entries, err := afero.ReadDir(g.fs, snapshotDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(path.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			out = append(out, path.Join(snapshotDir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (g *Gateway) log(ctx context.Context, planID, action, relPath string, format plan.Format) error {
	if g.logger == nil {
		return nil
	}
	payload, _ := json.Marshal(map[string]string{"path": relPath, "format": string(format)})
	return g.logger.LogDecision(ctx, domain.DecisionLog{
		PlanID:  planID,
		Actor:   "fs_gateway",
		Action:  action,
		Reason:  relPath,
		Payload: payload,
	})
}

func resolve(relPath string) (string, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(relPath), "\\", "/")
	normalized = strings.TrimPrefix(normalized, "./")
	normalized = strings.TrimPrefix(normalized, "/")
	if normalized == "" || normalized == "." {
		return "", fmt.Errorf("invalid relative path %q", relPath)
	}
	cleaned := path.Clean(normalized)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesRoot, relPath)
	}
	return cleaned, nil
}
