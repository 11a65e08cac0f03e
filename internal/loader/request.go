package loader

// ToEnd is the RequestedLength value asking for every byte from the
// requested offset to the end of the resource.
const ToEnd int64 = -1

// LoadRequest is one request from a playback engine for a custom resource.
// Implementations are provided by the engine adapter.
type LoadRequest interface {
	// ResourceName identifies the resource. Its extension selects the
	// reported content type.
	ResourceName() string

	// Metadata returns the content-information sub-request, or nil.
	Metadata() MetadataRequest

	// Data returns the byte-range sub-request, or nil.
	Data() DataRequest

	// Finish terminates the request. A nil error means success. The loader
	// calls Finish exactly once per accepted request.
	Finish(err error)
}

// MetadataRequest receives the resource's content information.
type MetadataRequest interface {
	SetContentType(contentType string)
	SetContentLength(length int64)
	SetByteRangeAccessSupported(supported bool)
}

// DataRequest asks for a byte range and receives decrypted chunks.
type DataRequest interface {
	RequestedOffset() int64

	// RequestedLength is the number of bytes wanted, or ToEnd.
	RequestedLength() int64

	// Respond delivers one chunk of plaintext. The slice is reused after
	// Respond returns, so the engine must copy what it keeps. A non-nil
	// error means the engine has gone away.
	Respond(chunk []byte) error
}
