package webserv

import (
	"path/filepath"
	"strings"

	"github.com/aofei/mimesniffer"
)

// The status codes carried through the response path.
const (
	StatusContinue = 100

	StatusOK        = 200
	StatusCreated   = 201
	StatusNoContent = 204

	StatusMovedPermanently = 301
	StatusFound            = 302
	StatusNotModified      = 304

	StatusBadRequest          = 400
	StatusForbidden           = 403
	StatusNotFound            = 404
	StatusMethodNotAllowed    = 405
	StatusConflict            = 409
	StatusPayloadTooLarge     = 413
	StatusURITooLong          = 414
	StatusExpectationFailed   = 417
	StatusInsufficientStorage = 507

	StatusInternalServerError     = 500
	StatusNotImplemented          = 501
	StatusBadGateway              = 502
	StatusGatewayTimeout          = 504
	StatusHTTPVersionNotSupported = 505
)

// reasonPhrases maps a status code to its reason phrase.
var reasonPhrases = map[int]string{
	StatusContinue: "Continue",

	StatusOK:        "OK",
	StatusCreated:   "Created",
	202:             "Accepted",
	StatusNoContent: "No Content",

	300:                    "Multiple Choices",
	StatusMovedPermanently: "Moved Permanently",
	StatusFound:            "Found",
	303:                    "See Other",
	StatusNotModified:      "Not Modified",
	307:                    "Temporary Redirect",
	308:                    "Permanent Redirect",

	StatusBadRequest:          "Bad Request",
	401:                       "Unauthorized",
	402:                       "Payment Required",
	StatusForbidden:           "Forbidden",
	StatusNotFound:            "Not Found",
	StatusMethodNotAllowed:    "Method Not Allowed",
	406:                       "Not Acceptable",
	408:                       "Request Timeout",
	StatusConflict:            "Conflict",
	410:                       "Gone",
	411:                       "Length Required",
	412:                       "Precondition Failed",
	StatusPayloadTooLarge:     "Payload Too Large",
	StatusURITooLong:          "URI Too Long",
	415:                       "Unsupported Media Type",
	416:                       "Range Not Satisfiable",
	StatusExpectationFailed:   "Expectation Failed",
	StatusInsufficientStorage: "Insufficient Storage",

	StatusInternalServerError:     "Internal Server Error",
	StatusNotImplemented:          "Not Implemented",
	StatusBadGateway:              "Bad Gateway",
	503:                           "Service Unavailable",
	StatusGatewayTimeout:          "Gateway Timeout",
	StatusHTTPVersionNotSupported: "HTTP Version Not Supported",
}

// reasonPhrase returns the reason phrase of the code, or "Unknown".
func reasonPhrase(code int) string {
	if p, ok := reasonPhrases[code]; ok {
		return p
	}

	return "Unknown"
}

// mimeTypes maps a lowercased filename extension to its MIME type.
var mimeTypes = map[string]string{
	".aac":   "audio/aac",
	".avi":   "video/x-msvideo",
	".bin":   "application/octet-stream",
	".bmp":   "image/bmp",
	".css":   "text/css",
	".csv":   "text/csv",
	".doc":   "application/msword",
	".gif":   "image/gif",
	".gz":    "application/gzip",
	".htm":   "text/html",
	".html":  "text/html",
	".ico":   "image/vnd.microsoft.icon",
	".jpeg":  "image/jpeg",
	".jpg":   "image/jpeg",
	".js":    "application/javascript",
	".json":  "application/json",
	".md":    "text/markdown",
	".mp3":   "audio/mpeg",
	".mp4":   "video/mp4",
	".mpeg":  "video/mpeg",
	".ogg":   "audio/ogg",
	".otf":   "font/otf",
	".pdf":   "application/pdf",
	".png":   "image/png",
	".py":    "text/x-python",
	".sh":    "application/x-sh",
	".svg":   "image/svg+xml",
	".tar":   "application/x-tar",
	".tiff":  "image/tiff",
	".toml":  "application/toml",
	".ttf":   "font/ttf",
	".txt":   "text/plain",
	".wav":   "audio/wav",
	".webm":  "video/webm",
	".webp":  "image/webp",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".xml":   "application/xml",
	".yaml":  "application/yaml",
	".yml":   "application/yaml",
	".zip":   "application/zip",
}

// typeByExtension returns the MIME type of the extension of the name. When
// the table has no entry, the b is sniffed instead.
func typeByExtension(name string, b []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := mimeTypes[ext]; ok {
		return t
	}

	if len(b) > 0 {
		return mimesniffer.Sniff(b)
	}

	return "application/octet-stream"
}
