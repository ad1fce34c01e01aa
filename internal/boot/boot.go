// Package boot implements the privilege-separation lifecycle of spec §5
// ("Boot") and §2 item 11: chroot, setgid/setuid, and the per-child CPU
// rlimit, performed once before the first connection is accepted. The
// syscall surface (golang.org/x/sys/unix for Chroot/Setresuid/Setrlimit,
// with zap for structured startup logging) is grounded on
// caddyserver-caddy/listen_unix.go's use of golang.org/x/sys/unix alongside
// zap for low-level platform operations.
package boot

import (
	"fmt"
	"os/user"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/hoekit/althttpd/internal/config"
)

// Drop performs the boot-time privilege lifecycle described by cfg: an
// optional chroot into cfg.Root, an optional CPU rlimit, then an
// irreversible setgid/setuid to cfg.User. It refuses to return while still
// running as root when cfg.User is set, per spec §5 ("refuses to serve
// while privileged").
func Drop(cfg *config.Config, log *zap.Logger) error {
	if cfg.Jail {
		if err := unix.Chroot(cfg.Root); err != nil {
			return fmt.Errorf("boot: chroot %s: %w", cfg.Root, err)
		}
		if err := unix.Chdir("/"); err != nil {
			return fmt.Errorf("boot: chdir / after chroot: %w", err)
		}
		log.Info("chrooted", zap.String("root", cfg.Root))
	}

	if cfg.MaxCPUSeconds > 0 {
		limit := uint64(cfg.MaxCPUSeconds)
		rlimit := unix.Rlimit{Cur: limit, Max: limit}
		if err := unix.Setrlimit(unix.RLIMIT_CPU, &rlimit); err != nil {
			return fmt.Errorf("boot: setrlimit RLIMIT_CPU: %w", err)
		}
		log.Info("cpu rlimit armed", zap.Int("seconds", cfg.MaxCPUSeconds))
	}

	if cfg.User == "" {
		return nil
	}

	uid, gid, err := lookupUser(cfg.User)
	if err != nil {
		return fmt.Errorf("boot: lookup user %s: %w", cfg.User, err)
	}

	if err := unix.Setresgid(gid, gid, gid); err != nil {
		return fmt.Errorf("boot: setresgid: %w", err)
	}
	if err := unix.Setresuid(uid, uid, uid); err != nil {
		return fmt.Errorf("boot: setresuid: %w", err)
	}
	log.Info("dropped privileges", zap.String("user", cfg.User), zap.Int("uid", uid), zap.Int("gid", gid))

	if unix.Getuid() == 0 {
		return fmt.Errorf("boot: refusing to serve as root after setuid to %s", cfg.User)
	}
	return nil
}

// lookupUser resolves name to a (uid, gid) pair via the system user
// database (spec §1 "user/group lookup by name" — out-of-scope collaborator,
// referenced only by its contract).
func lookupUser(name string) (uid, gid int, err error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, err
	}
	uid, err = strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("boot: non-numeric uid %q: %w", u.Uid, err)
	}
	gid, err = strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("boot: non-numeric gid %q: %w", u.Gid, err)
	}
	return uid, gid, nil
}
