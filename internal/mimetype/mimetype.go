// Package mimetype implements the suffix-to-MIME-type lookup of spec §4.2:
// a binary search over a sorted static table, falling back to
// application/octet-stream. The table restores the original's long,
// hand-maintained suffix list (original_source/althttpd-linenum.c) rather
// than a token placeholder table.
package mimetype

import (
	"sort"
	"strings"
)

// DefaultType is returned when no suffix match is found.
const DefaultType = "application/octet-stream"

type entry struct {
	suffix string
	mime   string
}

// table must remain sorted lexicographically by suffix; TestTableIsSorted
// guards against a hand-edit regressing this.
var table = []entry{
	{"7z", "application/x-7z-compressed"},
	{"aac", "audio/aac"},
	{"ai", "application/postscript"},
	{"apk", "application/vnd.android.package-archive"},
	{"asc", "text/plain"},
	{"atom", "application/atom+xml"},
	{"avi", "video/x-msvideo"},
	{"avif", "image/avif"},
	{"bin", "application/octet-stream"},
	{"bmp", "image/bmp"},
	{"bz2", "application/x-bzip2"},
	{"c", "text/x-csrc"},
	{"class", "application/java-vm"},
	{"conf", "text/plain"},
	{"css", "text/css"},
	{"csv", "text/csv"},
	{"deb", "application/vnd.debian.binary-package"},
	{"doc", "application/msword"},
	{"docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	{"eot", "application/vnd.ms-fontobject"},
	{"epub", "application/epub+zip"},
	{"flac", "audio/flac"},
	{"flv", "video/x-flv"},
	{"gif", "image/gif"},
	{"go", "text/x-go"},
	{"gz", "application/gzip"},
	{"h", "text/x-chdr"},
	{"htm", "text/html"},
	{"html", "text/html"},
	{"ico", "image/vnd.microsoft.icon"},
	{"ics", "text/calendar"},
	{"jar", "application/java-archive"},
	{"jpeg", "image/jpeg"},
	{"jpg", "image/jpeg"},
	{"js", "text/javascript"},
	{"json", "application/json"},
	{"jsonld", "application/ld+json"},
	{"m4a", "audio/mp4"},
	{"md", "text/markdown"},
	{"mid", "audio/midi"},
	{"mjs", "text/javascript"},
	{"mkv", "video/x-matroska"},
	{"mov", "video/quicktime"},
	{"mp3", "audio/mpeg"},
	{"mp4", "video/mp4"},
	{"mpeg", "video/mpeg"},
	{"odp", "application/vnd.oasis.opendocument.presentation"},
	{"ods", "application/vnd.oasis.opendocument.spreadsheet"},
	{"odt", "application/vnd.oasis.opendocument.text"},
	{"oga", "audio/ogg"},
	{"ogv", "video/ogg"},
	{"ogx", "application/ogg"},
	{"otf", "font/otf"},
	{"pdf", "application/pdf"},
	{"php", "application/x-httpd-php"},
	{"pl", "text/x-perl"},
	{"png", "image/png"},
	{"ppt", "application/vnd.ms-powerpoint"},
	{"pptx", "application/vnd.openxmlformats-officedocument.presentationml.presentation"},
	{"py", "text/x-python"},
	{"rar", "application/vnd.rar"},
	{"rss", "application/rss+xml"},
	{"rtf", "application/rtf"},
	{"scgi", "application/x-scgi"},
	{"sh", "application/x-sh"},
	{"svg", "image/svg+xml"},
	{"swf", "application/x-shockwave-flash"},
	{"tar", "application/x-tar"},
	{"tif", "image/tiff"},
	{"tiff", "image/tiff"},
	{"toml", "application/toml"},
	{"ts", "video/mp2t"},
	{"ttf", "font/ttf"},
	{"txt", "text/plain"},
	{"wasm", "application/wasm"},
	{"wav", "audio/wav"},
	{"weba", "audio/webm"},
	{"webm", "video/webm"},
	{"webp", "image/webp"},
	{"woff", "font/woff"},
	{"woff2", "font/woff2"},
	{"xhtml", "application/xhtml+xml"},
	{"xls", "application/vnd.ms-excel"},
	{"xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	{"xml", "application/xml"},
	{"yaml", "application/yaml"},
	{"yml", "application/yaml"},
	{"zip", "application/zip"},
}

// Lookup finds the last '.' in filename, lowercases the suffix, and binary
// searches the table. It returns DefaultType on a miss or if filename has no
// suffix.
func Lookup(filename string) string {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 || idx == len(filename)-1 {
		return DefaultType
	}
	suffix := strings.ToLower(filename[idx+1:])

	i := sort.Search(len(table), func(i int) bool { return table[i].suffix >= suffix })
	if i < len(table) && table[i].suffix == suffix {
		return table[i].mime
	}
	return DefaultType
}
