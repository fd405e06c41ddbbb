package generation

// User-visible texts recorded on items, in history and in toasts.
const (
	textFileNotFound       = "file not found in database"
	textOnlyPDF            = "only pdf files are available for merge"
	textDownloadError      = "download error: "
	textMessageNotFound    = "message not found in database"
	textMessageUnavailable = "Failed to get message text"
	textRegistryDown       = "Failed to get message text. Service unavailable."
	textRenderFailed       = "Failed to build pdf from message text"
	textTimeout            = "Timed out waiting for message text (%d minutes)"
	textCallbackError      = "Unknown error"

	noteStarted        = "Generation started"
	noteUploadFailed   = "Error uploading generated file"
	noteUploadSystem   = "File upload error: "
	noteErrorSystem    = "Generation error: "
	notePartial        = "Generated partially: some documents failed"
	noteGenerated      = "Generated successfully"
	noteNoSources      = "no files or messages to generate from"
	noteAllFailed      = "none of the documents could be prepared"
	noteNothingToMerge = "no documents to merge"

	toastGenerated = "Application generated"
	toastPartial   = "Application generated partially"
	toastError     = "Application generation error"
)
