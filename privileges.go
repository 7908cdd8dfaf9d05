package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"strconv"
	"syscall"
)

// identity is the resolved target user and groups.
type identity struct {
	name   string
	uid    int
	gid    int
	groups []int
}

// lookupIdentity resolves username and the optional group override.
func lookupIdentity(username, group string) (*identity, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve user %s: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("uid %q of %s: %w", u.Uid, username, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("gid %q of %s: %w", u.Gid, username, err)
	}

	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return nil, fmt.Errorf("unable to resolve group %s: %w", group, err)
		}
		if gid, err = strconv.Atoi(g.Gid); err != nil {
			return nil, fmt.Errorf("gid %q of %s: %w", g.Gid, group, err)
		}
	}

	id := &identity{name: username, uid: uid, gid: gid, groups: []int{gid}}
	if gids, err := u.GroupIds(); err == nil {
		for _, s := range gids {
			if n, err := strconv.Atoi(s); err == nil && n != gid {
				id.groups = append(id.groups, n)
			}
		}
	}
	return id, nil
}

// dropPrivileges switches the process to username. Supplementary groups
// are replaced first, then the gid, then the uid. Without root there is
// nothing to drop and the current identity is kept.
func dropPrivileges(log *slog.Logger, username, group string) error {
	id, err := lookupIdentity(username, group)
	if err != nil {
		return err
	}

	if os.Geteuid() != 0 {
		if os.Geteuid() != id.uid {
			log.Warn("not running as root, keeping current user",
				"user", username, "uid", os.Geteuid())
		}
		return nil
	}

	if err := syscall.Setgroups(id.groups); err != nil {
		return fmt.Errorf("setgroups for %s: %w", username, err)
	}
	if err := syscall.Setgid(id.gid); err != nil {
		return fmt.Errorf("unable to setgid to %d: %w", id.gid, err)
	}
	if err := syscall.Setuid(id.uid); err != nil {
		return fmt.Errorf("unable to setuid to %s: %w", username, err)
	}

	log.Debug("dropped privileges", "user", username, "uid", id.uid, "gid", id.gid)
	return nil
}
