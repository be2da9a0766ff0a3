package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/motionguard/internal/matcher"
)

// NewEnrollCommand creates the enroll command.
func NewEnrollCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enroll <name> <image>...",
		Short: "Add reference images of a person to the gallery",
		Long: `Compute the face embedding of each image with the configured embedder
and append it to the named identity in the gallery file. The identity is
created at the end of the gallery if it is new; enrollment order breaks
ties between equally close identities.

Names containing the policy's authorized label (default "Authorized") are
treated as authorized.

Example:
  motionguard enroll "Authorized Alice" alice1.jpg alice2.jpg`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnroll(rootOpts, args[0], args[1:], cmd)
		},
	}

	return cmd
}

// EnrollResult is the enroll output.
type EnrollResult struct {
	Identity   string `json:"identity"`
	Added      int    `json:"added"`
	Identities int    `json:"identities"`
	Embeddings int    `json:"embeddings"`
	Gallery    string `json:"gallery"`
}

func (r EnrollResult) String() string {
	return fmt.Sprintf("Enrolled %d image(s) for %s; gallery %s holds %d identities, %d embeddings",
		r.Added, r.Identity, r.Gallery, r.Identities, r.Embeddings)
}

func runEnroll(opts *RootOptions, name string, images []string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	formatter := opts.formatter(cmd)

	a := newApp(opts, cfg)
	defer a.Close()

	gallery, err := loadOrEmptyGallery(cfg.Matcher.Gallery)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load gallery", err)
	}
	emb, err := a.embedder()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start embedder", err)
	}

	// Embed everything before touching the gallery so a bad image leaves
	// the file unchanged.
	embeddings := make([]matcher.Embedding, 0, len(images))
	for _, img := range images {
		e, err := emb.Embed(cmd.Context(), img)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to embed %s", img), err)
		}
		if e == nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to embed %s", img), matcher.ErrNoFace)
		}
		embeddings = append(embeddings, e)
	}
	for _, e := range embeddings {
		if err := gallery.Enroll(name, e); err != nil {
			return WrapExitError(ExitFailure, "failed to enroll", err)
		}
	}
	if err := gallery.Save(cfg.Matcher.Gallery); err != nil {
		return WrapExitError(ExitCommandError, "failed to save gallery", err)
	}
	slog.Info("identity enrolled", "identity", name, "images", len(embeddings))

	return formatter.Success(EnrollResult{
		Identity:   name,
		Added:      len(embeddings),
		Identities: len(gallery.Identities),
		Embeddings: gallery.Size(),
		Gallery:    cfg.Matcher.Gallery,
	})
}
