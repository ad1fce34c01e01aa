// Package cgi implements the CGI launcher of spec §4.7 and the CGI dispatch
// rules of spec §4.9 step 12: pipe + fork + exec, env var installation, and
// either NPH direct-exec or framed-reply parsing. The process-spawning shape
// (cmd.Stdin from the POST body file, cmd.Stdout or a stdout pipe, Run for
// NPH and Start followed by a synchronous Wait for framed replies) is
// grounded on
// other_examples/2700faeb_infodancer-pop3d__internal-pop3-subprocess.go.go.
package cgi

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hoekit/althttpd/internal/envvars"
	"github.com/hoekit/althttpd/internal/reqcontext"
	"github.com/hoekit/althttpd/internal/replyframer"
	"github.com/hoekit/althttpd/internal/response"
)

// ErrWritable is returned by CheckPermissions when the script is writable by
// a user other than its owner (spec §4.9: "refuse if group- or
// world-writable").
var ErrWritable = fmt.Errorf("cgi: script is writable by group or others")

// CheckPermissions enforces spec §4.9's CGI-dispatch writability rule.
func CheckPermissions(info os.FileInfo) error {
	mode := info.Mode()
	if mode&0022 != 0 {
		return ErrWritable
	}
	return nil
}

// IsExecutable reports whether info has any execute bit set. It does not
// check whether the current user is permitted to execute the file.
func IsExecutable(info os.FileInfo) bool {
	return info.Mode()&0111 != 0
}

// IsNPH reports whether filePath's base name begins with "nph-" (spec §4.9,
// §4.7's NPH glossary entry).
func IsNPH(filePath string) bool {
	return strings.HasPrefix(filepath.Base(filePath), "nph-")
}

// Run launches filePath as a CGI script in dirPath with the given
// environment pairs and optional POST body file. For an NPH script, conn is
// written to directly and the function returns once the child exits,
// bypassing the reply framer and the access log (spec §4.7 NPH contract).
// Otherwise, the child's stdout is parsed with internal/replyframer and
// written to rw.
func Run(filePath, dirPath string, pairs []envvars.Pair, postBodyPath string, req *reqcontext.Request, rw *response.Writer, conn io.Writer) error {
	env := make([]string, 0, len(pairs))
	for _, p := range pairs {
		env = append(env, p.Name+"="+p.Value)
	}

	cmd := exec.Command(filePath)
	cmd.Dir = dirPath
	cmd.Env = env
	cmd.Stderr = os.Stderr

	if postBodyPath != "" {
		f, err := os.Open(postBodyPath)
		if err != nil {
			return fmt.Errorf("cgi: open post body: %w", err)
		}
		defer f.Close()
		cmd.Stdin = f
	}

	if IsNPH(filePath) {
		cmd.Stdout = conn
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("cgi: nph script %s: %w", filePath, err)
		}
		return nil
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("cgi: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("cgi: start %s: %w", filePath, err)
	}

	r := bufio.NewReader(stdout)
	frameErr := replyframer.Frame(r, rw, req)

	waitErr := cmd.Wait()
	if frameErr != nil {
		return frameErr
	}
	if waitErr != nil {
		return fmt.Errorf("cgi: %s exited: %w", filePath, waitErr)
	}
	return nil
}
