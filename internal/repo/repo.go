package repo

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"op/internal/config"
	operrors "op/internal/errors"
	"op/internal/logging"
	"op/internal/workspace"
)

const (
	ReadmeFile    = "README.md"
	OpsDBDir      = "opsdb"
	DeployableDir = "deployable"
)

type Outcome string

const (
	Created Outcome = "created"
	Skipped Outcome = "skipped"
	Failed  Outcome = "failed"
)

// Entry records what Init did with one path.
type Entry struct {
	Path    string
	Kind    string
	Outcome Outcome
	Reason  string
}

type Report struct {
	Root     string
	Template string
	Entries  []Entry
}

func (r *Report) add(path, kind string, outcome Outcome, reason string) {
	r.Entries = append(r.Entries, Entry{Path: path, Kind: kind, Outcome: outcome, Reason: reason})
}

func (r *Report) Count(o Outcome) int {
	n := 0
	for _, e := range r.Entries {
		if e.Outcome == o {
			n++
		}
	}
	return n
}

// Init scaffolds an op repo in root using the named template from cfg. It
// fails before touching the filesystem if the repo already exists or the
// template is unknown. Individual folders, files and deployables that cannot
// be created are reported rather than aborting.
func Init(root string, cfg *config.Config, template string, logger *zap.Logger) (*Report, error) {
	logger = logging.OrNop(logger)

	tmpl, err := cfg.Template(template)
	if err != nil {
		if errors.Is(err, operrors.ErrNotFound) {
			return nil, operrors.ValidationError(err.Error(), cfg.TemplateNames())
		}
		return nil, err
	}

	stateDir := filepath.Join(root, workspace.StateDir)
	ignoreFile := filepath.Join(root, workspace.IgnoreFile)
	for _, p := range []string{stateDir, ignoreFile} {
		if _, err := os.Lstat(p); err == nil {
			return nil, operrors.ValidationError("op repo is already initialized", p)
		}
	}

	report := &Report{Root: root, Template: template}

	if err := os.Mkdir(stateDir, 0755); err != nil {
		return nil, operrors.FromIO("creating state directory", stateDir, err)
	}
	report.add(stateDir, "dir", Created, "")

	if err := os.WriteFile(ignoreFile, []byte(workspace.StateDir+"\n"), 0644); err != nil {
		return nil, operrors.FromIO("creating ignore file", ignoreFile, err)
	}
	report.add(ignoreFile, "file", Created, "")

	createFile(report, filepath.Join(root, ReadmeFile))

	opsdb := filepath.Join(root, OpsDBDir)
	if _, err := os.Lstat(opsdb); err == nil {
		report.add(opsdb, "dir", Skipped, "already exists")
	} else {
		createDir(report, opsdb)
		createFile(report, filepath.Join(opsdb, "index.html"))
	}

	for _, folder := range tmpl.Folders {
		createDir(report, filepath.Join(root, folder))
	}
	for _, file := range tmpl.Files {
		path := filepath.Join(root, file)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			report.add(path, "file", Failed, err.Error())
			continue
		}
		createFile(report, path)
	}
	if len(tmpl.Deployables) > 0 {
		copyDeployables(report, root, cfg.DeployableDir, tmpl.Deployables)
	}

	logger.Info("initialized op repo",
		zap.String("root", root),
		zap.String("template", template),
		zap.Int("created", report.Count(Created)),
		zap.Int("skipped", report.Count(Skipped)),
		zap.Int("failed", report.Count(Failed)))
	return report, nil
}

func createDir(r *Report, path string) {
	if _, err := os.Lstat(path); err == nil {
		r.add(path, "dir", Skipped, "already exists")
		return
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		r.add(path, "dir", Failed, err.Error())
		return
	}
	r.add(path, "dir", Created, "")
}

func createFile(r *Report, path string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	switch {
	case errors.Is(err, fs.ErrExist):
		r.add(path, "file", Skipped, "already exists")
	case err != nil:
		r.add(path, "file", Failed, err.Error())
	default:
		f.Close()
		r.add(path, "file", Created, "")
	}
}

// copyDeployables copies each named file or directory from source into the
// repo's deployable dir, keeping only the last path element.
func copyDeployables(r *Report, root, source string, names []string) {
	destDir := filepath.Join(root, DeployableDir)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		r.add(destDir, "dir", Failed, err.Error())
		return
	}

	for _, name := range names {
		src := filepath.Join(source, filepath.FromSlash(name))
		dest := filepath.Join(destDir, filepath.Base(filepath.FromSlash(name)))

		if _, err := os.Lstat(dest); err == nil {
			r.add(dest, "deployable", Skipped, "already exists")
			continue
		}

		info, err := os.Stat(src)
		if err != nil {
			r.add(dest, "deployable", Failed, "source not found: "+src)
			continue
		}

		if info.IsDir() {
			err = copyTree(src, dest)
		} else {
			err = copyFile(src, dest, info.Mode().Perm())
		}
		if err != nil {
			r.add(dest, "deployable", Failed, err.Error())
			continue
		}
		r.add(dest, "deployable", Created, "")
	}
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dest string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}
