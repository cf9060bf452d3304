package daemon

import (
	"os"
	"os/user"
	"strconv"
	"syscall"

	"github.com/cockroachdb/errors"
)

// RequirePrivilegeDrop refuses to keep running as root without a target
// account to drop to. The worker handles hostile file content; it
// should never scan as root.
func RequirePrivilegeDrop(userName, groupName string) error {
	if os.Geteuid() != 0 {
		return nil
	}
	if userName == "" {
		return errors.New("daemon.user must be set when running as root")
	}
	if groupName == "" {
		return errors.New("daemon.group must be set when running as root")
	}
	return nil
}

// DropPrivileges switches the process to the given user/group. Names or
// numeric IDs are accepted. Group is dropped first so the user drop
// cannot strand us with root's groups.
func DropPrivileges(userName, groupName string) error {
	if userName == "" && groupName == "" {
		return nil
	}

	gid, err := resolveGroupID(groupName)
	if err != nil {
		return err
	}
	uid, err := resolveUserID(userName)
	if err != nil {
		return err
	}

	if gid >= 0 {
		if err := syscall.Setgid(gid); err != nil {
			return errors.Wrap(err, "setgid")
		}
	}
	if uid >= 0 {
		if err := syscall.Setuid(uid); err != nil {
			return errors.Wrap(err, "setuid")
		}
	}
	return nil
}

func resolveUserID(value string) (int, error) {
	if value == "" {
		return -1, nil
	}
	if id, err := strconv.Atoi(value); err == nil && id >= 0 {
		return id, nil
	}
	u, err := user.Lookup(value)
	if err != nil {
		return -1, errors.Wrapf(err, "unknown user %q", value)
	}
	id, err := strconv.Atoi(u.Uid)
	if err != nil {
		return -1, errors.Wrapf(err, "invalid uid for %q", value)
	}
	return id, nil
}

func resolveGroupID(value string) (int, error) {
	if value == "" {
		return -1, nil
	}
	if id, err := strconv.Atoi(value); err == nil && id >= 0 {
		return id, nil
	}
	g, err := user.LookupGroup(value)
	if err != nil {
		return -1, errors.Wrapf(err, "unknown group %q", value)
	}
	id, err := strconv.Atoi(g.Gid)
	if err != nil {
		return -1, errors.Wrapf(err, "invalid gid for %q", value)
	}
	return id, nil
}
