package httplive

import (
	"strings"
)

// supported egress containers, selected by the request extension.
var muxerExtensions = map[string]string{
	"flv": "video/x-flv",
	"ts":  "video/MP2T",
	"aac": "audio/aac",
	"mp3": "audio/mpeg",
}

func splitExtension(segment string) (string, string) {
	i := strings.LastIndexByte(segment, '.')
	if i < 0 {
		return segment, ""
	}
	return segment[:i], segment[i+1:]
}

// matchMount matches a request path against a mount template like
// "[vhost]/[app]/[stream].flv", extracting the app and stream names.
// The template extension is a placeholder: any supported container
// extension is accepted, and it selects the transmuxer.
func matchMount(mount string, path string) (app string, strm string, ext string, ok bool) {
	tsegs := strings.Split(strings.Trim(mount, "/"), "/")
	psegs := strings.Split(strings.Trim(path, "/"), "/")

	if len(tsegs) == 0 || len(psegs) == 0 {
		return "", "", "", false
	}

	// the vhost placeholder is bound to the Host header, not the path.
	if tsegs[0] == "[vhost]" {
		tsegs = tsegs[1:]
	}

	if len(tsegs) != len(psegs) {
		return "", "", "", false
	}

	last := len(tsegs) - 1
	tlast, _ := splitExtension(tsegs[last])
	plast, pext := splitExtension(psegs[last])

	if _, supported := muxerExtensions[pext]; !supported {
		return "", "", "", false
	}

	for i := 0; i < last; i++ {
		switch tsegs[i] {
		case "[app]":
			app = psegs[i]
		case "[stream]":
			strm = psegs[i]
		default:
			if tsegs[i] != psegs[i] {
				return "", "", "", false
			}
		}
	}

	switch tlast {
	case "[app]":
		app = plast
	case "[stream]":
		strm = plast
	default:
		if tlast != plast {
			return "", "", "", false
		}
	}

	if strm == "" {
		return "", "", "", false
	}

	return app, strm, pext, true
}
