package vfs

import (
	"sync"

	"golang.org/x/sys/windows"
	"www.velocidex.com/golang/triage/logging"
)

// PrivilegeMask records which token privileges were granted at
// startup. The accessor consults it before attempting raw opens.
type PrivilegeMask uint32

const (
	PrivBackup PrivilegeMask = 1 << iota
	PrivRestore
	PrivSecurity
	PrivTakeOwnership
	PrivDebug
)

func (self PrivilegeMask) Has(p PrivilegeMask) bool {
	return self&p != 0
}

var privilege_names = []struct {
	name string
	bit  PrivilegeMask
}{
	{"SeBackupPrivilege", PrivBackup},
	{"SeRestorePrivilege", PrivRestore},
	{"SeSecurityPrivilege", PrivSecurity},
	{"SeTakeOwnershipPrivilege", PrivTakeOwnership},
	{"SeDebugPrivilege", PrivDebug},
}

var (
	acquire_once sync.Once
	granted_mask PrivilegeMask
)

// AcquirePrivileges adjusts the process token once per process. A
// privilege which can not be enabled is logged and skipped - the
// engine continues with whatever was obtained.
func AcquirePrivileges() PrivilegeMask {
	acquire_once.Do(func() {
		logger := logging.GetLogger("vfs")

		var token windows.Token
		err := windows.OpenProcessToken(windows.CurrentProcess(),
			windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY, &token)
		if err != nil {
			logger.Warnf("Unable to open process token: %v", err)
			return
		}
		defer token.Close()

		for _, priv := range privilege_names {
			err := enablePrivilege(token, priv.name)
			if err != nil {
				logger.Debugf("Privilege %v not granted: %v",
					priv.name, err)
				continue
			}
			granted_mask |= priv.bit
		}
	})

	return granted_mask
}

func enablePrivilege(token windows.Token, name string) error {
	wide_name, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return err
	}

	var luid windows.LUID
	err = windows.LookupPrivilegeValue(nil, wide_name, &luid)
	if err != nil {
		return err
	}

	privileges := windows.Tokenprivileges{
		PrivilegeCount: 1,
		Privileges: [1]windows.LUIDAndAttributes{{
			Luid:       luid,
			Attributes: windows.SE_PRIVILEGE_ENABLED,
		}},
	}

	err = windows.AdjustTokenPrivileges(
		token, false, &privileges, 0, nil, nil)
	if err != nil {
		return err
	}

	// AdjustTokenPrivileges succeeds even when nothing was assigned.
	if windows.GetLastError() == windows.ERROR_NOT_ALL_ASSIGNED {
		return windows.ERROR_NOT_ALL_ASSIGNED
	}

	return nil
}

func checkPlatform() error {
	return nil
}
