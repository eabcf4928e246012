package domain

// MediaRole says where in an article a media reference was found.
type MediaRole string

const (
	RoleInline    MediaRole = "inline"
	RoleThumbnail MediaRole = "thumbnail"
)

// MediaReference is one discovered embedded resource. Transient: it lives
// only for the duration of a pipeline run.
type MediaReference struct {
	OriginalURL string
	Role        MediaRole
	ResolvedURL string // empty until downloaded and stored
	MimeType    string
	ByteSize    int64
	Err         error
}

// Resolved reports whether the reference was rehosted successfully.
func (r MediaReference) Resolved() bool {
	return r.Err == nil && r.ResolvedURL != ""
}

// MediaResult is the outcome of one pipeline run over a single document.
// Failed references keep their original URLs in Body and contribute one
// entry to Errors each; the run as a whole is still usable.
type MediaResult struct {
	Body         string
	ThumbnailURL string
	Resolved     []MediaReference
	Errors       []string
}
