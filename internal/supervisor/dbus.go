package supervisor

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	systemdDest    = "org.freedesktop.systemd1"
	systemdPath    = dbus.ObjectPath("/org/freedesktop/systemd1")
	managerIface   = "org.freedesktop.systemd1.Manager"
	jobRemovedName = managerIface + ".JobRemoved"
)

// DBusControl talks to systemd's manager object over D-Bus and waits for
// each queued job to finish.
type DBusControl struct {
	conn *dbus.Conn
}

// NewDBusControl connects to the system bus, or the session bus for
// per-user units.
func NewDBusControl(userMode bool) (*DBusControl, error) {
	var conn *dbus.Conn
	var err error
	if userMode {
		conn, err = dbus.SessionBus()
	} else {
		conn, err = dbus.SystemBus()
	}
	if err != nil {
		if userMode {
			return nil, fmt.Errorf("session bus: %w", err)
		}
		return nil, fmt.Errorf("system bus: %w", err)
	}

	// Without a subscription systemd does not emit JobRemoved.
	if call := conn.Object(systemdDest, systemdPath).Call(managerIface+".Subscribe", 0); call.Err != nil {
		if dbusErr, ok := call.Err.(dbus.Error); !ok || dbusErr.Name != "org.freedesktop.systemd1.AlreadySubscribed" {
			return nil, fmt.Errorf("subscribe to systemd: %w", call.Err)
		}
	}

	return &DBusControl{conn: conn}, nil
}

// Close releases the bus connection.
func (c *DBusControl) Close() error {
	return c.conn.Close()
}

func (c *DBusControl) manager() dbus.BusObject {
	return c.conn.Object(systemdDest, systemdPath)
}

func (c *DBusControl) Reload(ctx context.Context) error {
	return c.manager().CallWithContext(ctx, managerIface+".Reload", 0).Err
}

func (c *DBusControl) Enable(ctx context.Context, unitName string) error {
	call := c.manager().CallWithContext(ctx, managerIface+".EnableUnitFiles", 0, []string{unitName}, false, true)
	if call.Err != nil {
		return fmt.Errorf("enable %s: %w", unitName, call.Err)
	}
	return nil
}

func (c *DBusControl) Disable(ctx context.Context, unitName string) error {
	call := c.manager().CallWithContext(ctx, managerIface+".DisableUnitFiles", 0, []string{unitName}, false)
	if call.Err != nil {
		return fmt.Errorf("disable %s: %w", unitName, call.Err)
	}
	return nil
}

func (c *DBusControl) Start(ctx context.Context, unitName string) error {
	return c.runJob(ctx, "StartUnit", unitName)
}

func (c *DBusControl) Stop(ctx context.Context, unitName string) error {
	return c.runJob(ctx, "StopUnit", unitName)
}

func (c *DBusControl) Restart(ctx context.Context, unitName string) error {
	return c.runJob(ctx, "RestartUnit", unitName)
}

func (c *DBusControl) ActiveState(ctx context.Context, unitName string) (string, error) {
	var path dbus.ObjectPath
	if err := c.manager().CallWithContext(ctx, managerIface+".LoadUnit", 0, unitName).Store(&path); err != nil {
		return "", fmt.Errorf("load %s: %w", unitName, err)
	}

	variant, err := c.conn.Object(systemdDest, path).GetProperty("org.freedesktop.systemd1.Unit.ActiveState")
	if err != nil {
		return "", fmt.Errorf("read ActiveState of %s: %w", unitName, err)
	}
	state, _ := variant.Value().(string)
	return state, nil
}

const matchJobRemoved = "type='signal',sender='" + systemdDest + "',interface='" + managerIface + "',member='JobRemoved'"

// runJob queues a unit job and blocks until systemd reports its result.
func (c *DBusControl) runJob(ctx context.Context, method, unitName string) error {
	if call := c.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, matchJobRemoved); call.Err != nil {
		return fmt.Errorf("%s %s: watch job results: %w", method, unitName, call.Err)
	}
	defer c.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, matchJobRemoved)

	// Subscribed before queueing: JobRemoved can arrive before the reply.
	sigCh := make(chan *dbus.Signal, 64)
	c.conn.Signal(sigCh)
	defer c.conn.RemoveSignal(sigCh)

	var job dbus.ObjectPath
	if err := c.manager().CallWithContext(ctx, managerIface+"."+method, 0, unitName, "replace").Store(&job); err != nil {
		return fmt.Errorf("%s %s: %w", method, unitName, err)
	}
	if err := waitJob(ctx, sigCh, job); err != nil {
		return fmt.Errorf("%s %s: %w", method, unitName, err)
	}
	return nil
}

// waitJob reads signals until the JobRemoved for job arrives. Any result
// other than "done" is an error.
func waitJob(ctx context.Context, signals <-chan *dbus.Signal, job dbus.ObjectPath) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("bus connection closed")
			}
			if sig == nil || sig.Name != jobRemovedName || len(sig.Body) < 4 {
				continue
			}
			if path, _ := sig.Body[1].(dbus.ObjectPath); path != job {
				continue
			}
			result, _ := sig.Body[3].(string)
			if result != "done" {
				return fmt.Errorf("job finished with result %q", result)
			}
			return nil
		}
	}
}
