package content

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"lighthousenotes/pkg/domain"
	"lighthousenotes/services/web/internal/apiclient"
)

const (
	// PathToken prefixes the filename of an uploaded image in storage form.
	PathToken = ".path/"
	// PlaceholderImage replaces images whose stored object cannot be served.
	PlaceholderImage = "/img/image-error.jpeg"

	defaultConcurrency = 8
)

// ContentType is the kind of content an image was uploaded with.
type ContentType string

const (
	ContemporaneousNote ContentType = "contemporaneous-note"
	Tab                 ContentType = "tab"
)

// Folder is the plural object storage folder for the content type.
func (ct ContentType) Folder() string {
	switch ct {
	case ContemporaneousNote:
		return "contemporaneous-notes"
	case Tab:
		return "tabs"
	default:
		return string(ct) + "s"
	}
}

// ImageURLResolver returns a displayable URL for an uploaded image.
// Errors for which apiclient.IsRecoverable is true put the placeholder in
// place of the image; any other error fails the whole conversion.
type ImageURLResolver func(ctx context.Context, caseID string, ct ContentType, filename string) (string, error)

// StoragePrefix is the URL prefix under which the editor shows freshly
// uploaded images, for example
// https://s3.example.com/lighthouse/cases/<case>/<user>/contemporaneous-notes/images/.
// Shared content lives under "shared" instead of the user id.
func StoragePrefix(s3Endpoint, caseID string, ns domain.Namespace, userID string, ct ContentType) string {
	owner := userID
	if ns == domain.Shared {
		owner = "shared"
	}
	return fmt.Sprintf("%s/cases/%s/%s/%s/images/", strings.TrimRight(s3Endpoint, "/"), caseID, owner, ct.Folder())
}

// ToStorageForm rewrites every image whose src starts with prefix to
// ".path/<file>", dropping any presigned query string. Other images and
// mentions are left alone. Applying it twice is the same as applying it once.
func ToStorageForm(content, prefix string) (string, error) {
	doc, err := Parse(content)
	if err != nil {
		return "", err
	}
	if prefix != "" {
		for _, img := range doc.Images() {
			src := img.Src()
			if !strings.HasPrefix(src, prefix) {
				continue
			}
			img.SetSrc(PathToken + filename(src))
		}
	}
	return doc.HTML()
}

// FinalizeForStorage resolves mentions into links, then converts images to
// storage form.
func FinalizeForStorage(ctx context.Context, content, caseID, prefix string) (string, error) {
	resolved, err := ResolveMentions(ctx, content, caseID)
	if err != nil {
		return "", err
	}
	return ToStorageForm(resolved, prefix)
}

// Rewriter converts storage form to display form.
type Rewriter struct {
	Resolve ImageURLResolver
	// Concurrency bounds parallel image resolutions per document. Zero means 8.
	Concurrency int
}

// ToDisplayForm is Rewriter{Resolve: resolve}.ToDisplayForm.
func ToDisplayForm(ctx context.Context, content, caseID string, ct ContentType, resolve ImageURLResolver) (string, error) {
	return Rewriter{Resolve: resolve}.ToDisplayForm(ctx, content, caseID, ct)
}

// ToDisplayForm replaces every ".path/<file>" image source with the URL
// returned by the resolver. Images are resolved concurrently; the document
// is only modified once all of them have finished.
func (r Rewriter) ToDisplayForm(ctx context.Context, content, caseID string, ct ContentType) (string, error) {
	doc, err := Parse(content)
	if err != nil {
		return "", err
	}
	var images []Image
	for _, img := range doc.Images() {
		if strings.HasPrefix(img.Src(), PathToken) {
			images = append(images, img)
		}
	}
	if len(images) == 0 {
		return doc.HTML()
	}
	if r.Resolve == nil {
		return "", fmt.Errorf("content: no image resolver")
	}

	limit := r.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	urls := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, img := range images {
		name := filename(strings.TrimPrefix(img.Src(), PathToken))
		g.Go(func() error {
			u, err := r.Resolve(gctx, caseID, ct, name)
			switch {
			case err == nil:
				urls[i] = u
			case apiclient.IsRecoverable(err):
				logger(gctx).Warn("image unavailable", "case_id", caseID, "file", name, "err", err)
				urls[i] = PlaceholderImage
			default:
				return fmt.Errorf("resolve image %s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	for i, img := range images {
		img.SetSrc(urls[i])
	}
	return doc.HTML()
}

// filename returns the last path segment of src without query or fragment.
func filename(src string) string {
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	if i := strings.LastIndex(src, "/"); i >= 0 {
		src = src[i+1:]
	}
	return src
}
