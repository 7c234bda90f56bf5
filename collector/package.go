package collector

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"www.velocidex.com/golang/triage/bodyfile"
	"www.velocidex.com/golang/triage/container"
	"www.velocidex.com/golang/triage/logging"
	"www.velocidex.com/golang/triage/uploads"
	"www.velocidex.com/golang/triage/utils"
)

func (self *Collector) generateBodyfile(ctx context.Context) error {
	body_path := filepath.Join(
		self.staging_root, Hostname()+".body")

	fd, err := os.OpenFile(body_path,
		os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer fd.Close()

	generator := bodyfile.NewGenerator(self.accessor, fd,
		bodyfile.Options{
			CalculateHash: self.options.BodyfileCalculateHash,
			HashMaxSize:   self.options.BodyfileHashMaxSizeBytes(),
			SkipPaths:     self.options.BodyfileSkipPaths,
			UseISO8601:    self.options.BodyfileUseISO8601,
		})

	return generator.Generate(ctx, self.staging_root)
}

// selectSink picks the terminal destination. Streaming prefers the
// network sinks; otherwise the archive lands on the local path.
func (self *Collector) selectSink(ctx context.Context) (uploads.Sink, error) {
	if self.config.Stream && self.config.S3 != nil {
		client, err := uploads.NewS3Client(ctx, *self.config.S3)
		if err != nil {
			return nil, err
		}
		return uploads.NewS3Sink(ctx, client,
			*self.config.S3, self.config.Progress)
	}

	if self.config.Stream && self.config.SFTP != nil {
		return uploads.NewSFTPSink(ctx,
			*self.config.SFTP, self.config.Progress)
	}

	return uploads.NewLocalSink(self.localArchivePath(), self.config.Progress)
}

func (self *Collector) localArchivePath() string {
	if self.config.OutputPath != "" {
		return self.config.OutputPath
	}
	return filepath.Join(".", ContainerName(Hostname(), time.Now()))
}

// packageCollection streams the staging tree through the zip
// pipeline into the selected sink. On a streaming failure the sink
// is aborted and, when a local path is available, the archive is
// rewritten locally from the intact staging tree.
func (self *Collector) packageCollection(
	ctx context.Context, summary *Summary) error {

	logger := logging.GetLogger("collector")

	sink, err := self.selectSink(ctx)
	if err == nil {
		err = self.writeArchive(ctx, sink, summary)
		if err != nil {
			abort_err := sink.Abort()
			if abort_err != nil {
				logger.Errorf("remote abort: %v", abort_err)
			}
		}
	}

	if err == nil {
		return nil
	}

	// Stream mode fallback: the staging tree is still complete, so
	// retry into the local path.
	if self.config.Stream && self.config.OutputPath != "" {
		logger.Warnf("streaming failed (%v), staging locally to %v",
			err, self.config.OutputPath)

		local, local_err := uploads.NewLocalSink(
			self.config.OutputPath, self.config.Progress)
		if local_err != nil {
			return err
		}

		local_err = self.writeArchive(ctx, local, summary)
		if local_err != nil {
			local.Abort()
			return err
		}

		summary.Warnings = append(summary.Warnings,
			"streaming upload failed, archive staged locally: "+
				err.Error())
		return nil
	}

	return err
}

func (self *Collector) writeArchive(ctx context.Context,
	sink uploads.Sink, summary *Summary) error {

	archive, err := container.NewContainer(
		&uploads.WriteCloserSink{Sink: sink}, self.config.Password)
	if err != nil {
		return err
	}

	err = self.addStagedEntries(ctx, archive)
	if err != nil {
		return err
	}

	// The summary is always the last entry before the central
	// directory closes the archive.
	serialized, err := marshalRecord(summary.ToDict())
	if err != nil {
		return err
	}

	err = archive.WriteEntry(
		"collection_summary.json", summary.EndTime, serialized)
	if err != nil {
		return err
	}

	return archive.Close()
}

func (self *Collector) addStagedEntries(
	ctx context.Context, archive *container.Container) error {

	var staged []string
	err := filepath.Walk(self.staging_root,
		func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			staged = append(staged, path)
			return nil
		})
	if err != nil {
		return err
	}

	sort.Strings(staged)

	for _, path := range staged {
		if err := ctx.Err(); err != nil {
			return err
		}

		relative, err := filepath.Rel(self.staging_root, path)
		if err != nil {
			return err
		}
		relative = filepath.ToSlash(relative)

		err = self.addOneEntry(ctx, archive, path, relative)
		if err != nil {
			return errors.Wrapf(err, "archiving %v", relative)
		}
	}

	return nil
}

func (self *Collector) addOneEntry(ctx context.Context,
	archive *container.Container, path, relative string) error {

	stat, err := os.Stat(path)
	if err != nil {
		return err
	}

	fd, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fd.Close()

	sink, err := archive.Create(relative, stat.ModTime(), stat.Size())
	if err != nil {
		return err
	}

	_, err = utils.Copy(ctx, sink, fd)
	close_err := sink.Close()
	if err != nil {
		return err
	}
	return close_err
}
