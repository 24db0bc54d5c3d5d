package mbdump

import (
	"archive/tar"
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// PrepareOptions control the database refresh stage.
type PrepareOptions struct {
	Verify        bool
	Overwrite     bool
	UseDocker     bool
	DockerImage   string
	ContainerName string
}

// Prepare provisions PostgreSQL, downloads the dump archives and
// imports them. Already-imported files are skipped via their markers,
// so an interrupted import resumes where it stopped.
func (d *Downloader) Prepare(ctx context.Context, pg Postgres, opts PrepareOptions) error {
	if err := d.EnsurePostgres(ctx, pg, opts); err != nil {
		return err
	}

	archives, err := d.DownloadAll(ctx, opts.Verify, opts.Overwrite)
	if err != nil {
		return err
	}

	for _, archive := range archives {
		if !strings.HasPrefix(filepath.Base(archive), "mbdump") {
			d.logger.Info("skipping extraction", "archive", archive)
			continue
		}
		extracted, err := d.Extract(archive)
		if err != nil {
			return err
		}
		if err := d.ImportSQL(ctx, extracted, pg); err != nil {
			return err
		}
	}
	return nil
}

// Extract unpacks a .tar.bz2 archive into a directory next to it and
// returns that directory. Entries that would escape the destination
// abort the extraction.
func (d *Downloader) Extract(archivePath string) (string, error) {
	destination := strings.TrimSuffix(archivePath, ".tar.bz2")
	d.logger.Info("extracting archive", "archive", archivePath, "destination", destination)

	if err := d.fs.MkdirAll(destination, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", destination, err)
	}

	file, err := d.fs.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", archivePath, err)
	}
	defer file.Close()

	reader := tar.NewReader(bzip2.NewReader(file))
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", archivePath, err)
		}

		target, err := safeJoin(destination, header.Name)
		if err != nil {
			return "", fmt.Errorf("extracting %s: %w", archivePath, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := d.fs.MkdirAll(target, 0o755); err != nil {
				return "", fmt.Errorf("creating %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := d.extractFile(reader, target); err != nil {
				return "", fmt.Errorf("extracting %s: %w", header.Name, err)
			}
		default:
			d.logger.Debug("skipping archive entry", "name", header.Name, "type", header.Typeflag)
		}
	}

	d.logger.Info("extraction complete", "archive", archivePath)
	return destination, nil
}

func (d *Downloader) extractFile(reader io.Reader, target string) error {
	if err := d.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	file, err := d.fs.Create(target)
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(file, reader)
	if closeErr := file.Close(); copyErr == nil {
		copyErr = closeErr
	}
	return copyErr
}

// safeJoin joins an archive entry name onto dir, rejecting absolute
// paths and traversal outside dir.
func safeJoin(dir, name string) (string, error) {
	cleaned := filepath.Clean(name)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("unsafe path %q in archive", name)
	}
	return filepath.Join(dir, cleaned), nil
}

// ImportSQL executes the extracted SQL files in alphabetical order via
// psql. Each completed file gets a .done marker, which later runs use
// to resume.
func (d *Downloader) ImportSQL(ctx context.Context, dir string, pg Postgres) error {
	sqlFiles, err := afero.Glob(d.fs, filepath.Join(dir, "*.sql"))
	if err != nil {
		return fmt.Errorf("listing SQL files in %s: %w", dir, err)
	}
	if len(sqlFiles) == 0 {
		return fmt.Errorf("no SQL files in %s, was the dump extracted?", dir)
	}
	sort.Strings(sqlFiles)

	for _, sqlFile := range sqlFiles {
		marker := sqlFile + ".done"
		done, err := afero.Exists(d.fs, marker)
		if err != nil {
			return err
		}
		if done {
			d.logger.Info("skipping already imported file", "path", sqlFile)
			continue
		}

		d.logger.Info("importing", "path", sqlFile)
		file, err := d.fs.Open(sqlFile)
		if err != nil {
			return fmt.Errorf("opening %s: %w", sqlFile, err)
		}

		output, runErr := d.runner.Run(ctx, file, pg.Env(true), "psql", "-v", "ON_ERROR_STOP=1")
		file.Close()
		if runErr != nil {
			d.logger.Error("psql import failed", "path", sqlFile, "output", string(output))
			return fmt.Errorf("psql import failed for %s: %w", sqlFile, runErr)
		}

		if err := afero.WriteFile(d.fs, marker, nil, 0o644); err != nil {
			return fmt.Errorf("writing marker %s: %w", marker, err)
		}
		d.logger.Info("finished importing", "path", sqlFile)
	}
	return nil
}

// EnsurePostgres makes sure a PostgreSQL instance is reachable, either
// by starting a container or by creating the database on a local
// install.
func (d *Downloader) EnsurePostgres(ctx context.Context, pg Postgres, opts PrepareOptions) error {
	if opts.UseDocker {
		return d.ensureDockerDatabase(ctx, pg, opts)
	}
	return d.ensureLocalDatabase(ctx, pg)
}

func (d *Downloader) ensureDockerDatabase(ctx context.Context, pg Postgres, opts PrepareOptions) error {
	image := opts.DockerImage
	if image == "" {
		image = "postgres:14"
	}
	name := opts.ContainerName
	if name == "" {
		name = "musicbrainz-postgres"
	}

	d.logger.Info("ensuring postgres container", "container", name)
	if _, err := d.runner.Run(ctx, nil, nil, "docker", "inspect", name); err == nil {
		d.logger.Info("container already exists", "container", name)
		return nil
	}

	args := []string{
		"run", "-d",
		"--name", name,
		"-e", fmt.Sprintf("POSTGRES_USER=%s", pg.User),
		"-e", fmt.Sprintf("POSTGRES_PASSWORD=%s", pg.Password),
		"-e", fmt.Sprintf("POSTGRES_DB=%s", pg.Database),
		"-p", fmt.Sprintf("%d:5432", pg.Port),
		image,
	}

	d.logger.Info("starting postgres container", "container", name, "image", image)
	if output, err := d.runner.Run(ctx, nil, nil, "docker", args...); err != nil {
		d.logger.Error("docker run failed", "output", string(output))
		return fmt.Errorf("starting postgres container: %w", err)
	}
	return nil
}

func (d *Downloader) ensureLocalDatabase(ctx context.Context, pg Postgres) error {
	d.logger.Info("ensuring local database exists", "database", pg.Database)

	output, err := d.runner.Run(ctx, nil, pg.Env(false), "psql", "-lqt")
	if err != nil {
		d.logger.Error("listing databases failed", "output", string(output))
		return fmt.Errorf("listing postgres databases: %w", err)
	}

	for _, line := range strings.Split(string(output), "\n") {
		name := strings.TrimSpace(strings.SplitN(line, "|", 2)[0])
		if name == pg.Database {
			d.logger.Info("database already exists", "database", pg.Database)
			return nil
		}
	}

	d.logger.Info("creating database", "database", pg.Database)
	if output, err := d.runner.Run(ctx, nil, pg.Env(false), "createdb", pg.Database); err != nil {
		d.logger.Error("createdb failed", "output", string(output))
		return fmt.Errorf("creating database %s: %w", pg.Database, err)
	}
	return nil
}
