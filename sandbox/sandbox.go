// Package sandbox provisions disposable working copies for subagents.
// Each sandbox is a full copy of the source tree under a unique temp
// directory, private to one subagent and torn down after use.
package sandbox

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Box is one disposable working copy.
type Box struct {
	id   string
	root string
	prov *Provisioner
}

// ID returns the sandbox identifier.
func (b *Box) ID() string { return b.id }

// Root returns the sandbox working directory.
func (b *Box) Root() string { return b.root }

// Remove deletes the working copy. Safe to call more than once.
func (b *Box) Remove() error {
	b.prov.untrack(b.id)
	if err := os.RemoveAll(b.root); err != nil {
		return fmt.Errorf("remove sandbox %s: %w", b.id, err)
	}
	return nil
}

// Provisioner creates sandboxes and tracks the live ones so a shutdown
// can sweep leftovers.
type Provisioner struct {
	// BaseDir is where sandboxes are created, defaulting to os.TempDir().
	BaseDir string

	mu   sync.Mutex
	live map[string]*Box
}

// NewProvisioner returns a provisioner rooted at baseDir ("" for the
// system temp directory).
func NewProvisioner(baseDir string) *Provisioner {
	return &Provisioner{BaseDir: baseDir, live: make(map[string]*Box)}
}

// Provision copies src into a fresh private directory.
func (p *Provisioner) Provision(src string) (*Box, error) {
	base := p.BaseDir
	if base == "" {
		base = os.TempDir()
	}
	id := uuid.NewString()
	root := filepath.Join(base, "codemender-sandbox-"+id)
	if err := copyTree(src, root); err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("provision sandbox: %w", err)
	}
	box := &Box{id: id, root: root, prov: p}
	p.mu.Lock()
	p.live[id] = box
	p.mu.Unlock()
	return box, nil
}

// Live reports the number of sandboxes not yet removed.
func (p *Provisioner) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Sweep removes every live sandbox. Used at shutdown.
func (p *Provisioner) Sweep() {
	p.mu.Lock()
	boxes := make([]*Box, 0, len(p.live))
	for _, b := range p.live {
		boxes = append(boxes, b)
	}
	p.mu.Unlock()
	for _, b := range boxes {
		if err := b.Remove(); err != nil {
			log.Printf("sandbox: sweep failed for %s: %v", b.id, err)
		}
	}
}

func (p *Provisioner) untrack(id string) {
	p.mu.Lock()
	delete(p.live, id)
	p.mu.Unlock()
}

// copyTree mirrors src into dst, skipping VCS metadata and virtualenvs.
// Symlinks are skipped rather than followed.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			switch d.Name() {
			case ".git", "venv", ".venv", "node_modules", "__pycache__":
				if rel != "." {
					return filepath.SkipDir
				}
			}
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
