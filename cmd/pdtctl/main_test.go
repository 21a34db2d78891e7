package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCLI_UserFlagsAndOverrides(t *testing.T) {
	t.Setenv("CHATPDT_LOCAL_DRIVER", "sqlite")
	t.Setenv("CHATPDT_SQLITE_PATH", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("CHATPDT_CLOUD_DRIVER", "none")
	t.Setenv("CHATPDT_OVERRIDES_POLL_INTERVAL", "20ms")

	if _, err := run(t, "add-user", "root", "@Maintenance", "--admin"); err != nil {
		t.Fatalf("add superuser: %v", err)
	}
	if _, err := run(t, "add-user", "alice", "alice"); err != nil {
		t.Fatalf("add alice: %v", err)
	}

	out, err := run(t, "admin", "alice", "--actor", "root")
	if err != nil {
		t.Fatalf("grant admin: %v", err)
	}
	if !strings.Contains(out, "alice admin=true") {
		t.Fatalf("unexpected admin output: %q", out)
	}

	if _, err := run(t, "ban", "root", "--actor", "alice"); err == nil {
		t.Fatalf("banning the superuser must fail")
	}
	if _, err := run(t, "admin", "root", "--revoke", "--actor", "alice"); err == nil {
		t.Fatalf("only the superuser may change admin rights")
	}

	out, err = run(t, "users")
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if !strings.Contains(out, "root\t@Maintenance admin") || !strings.Contains(out, "alice\talice admin") {
		t.Fatalf("unexpected users output: %q", out)
	}

	if _, err := run(t, "theme", "alice", "sepia"); err == nil {
		t.Fatalf("unknown theme must be rejected")
	}
	if _, err := run(t, "theme", "alice", "dark"); err != nil {
		t.Fatalf("push theme: %v", err)
	}
	out, err = run(t, "show-overrides", "alice")
	if err != nil {
		t.Fatalf("show overrides: %v", err)
	}
	if !strings.Contains(out, `"Theme": "dark"`) {
		t.Fatalf("theme not stored: %q", out)
	}
}

func TestCLI_ClearChatsAndDeleteUser(t *testing.T) {
	t.Setenv("CHATPDT_LOCAL_DRIVER", "sqlite")
	t.Setenv("CHATPDT_SQLITE_PATH", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("CHATPDT_CLOUD_DRIVER", "none")

	for _, args := range [][]string{
		{"add-user", "root", "@Maintenance", "--admin"},
		{"add-user", "bob", "bob"},
	} {
		if _, err := run(t, args...); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}

	out, err := run(t, "clear-chats", "bob", "--actor", "bob")
	if err != nil {
		t.Fatalf("clear own chats: %v", err)
	}
	if !strings.Contains(out, "bob chats cleared=0") {
		t.Fatalf("unexpected clear-chats output: %q", out)
	}

	if _, err := run(t, "delete-user", "root", "--actor", "bob"); err == nil {
		t.Fatalf("a non-admin must not delete users")
	}
	if _, err := run(t, "delete-user", "root", "--actor", "root"); err == nil {
		t.Fatalf("the superuser cannot be deleted")
	}
	if out, err = run(t, "delete-user", "bob", "--actor", "root"); err != nil {
		t.Fatalf("delete bob: %v", err)
	}
	if !strings.Contains(out, "bob deleted") {
		t.Fatalf("unexpected delete-user output: %q", out)
	}

	out, err = run(t, "users")
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if strings.Contains(out, "bob\tbob") {
		t.Fatalf("bob still listed: %q", out)
	}
}

func TestCLI_RequiresActor(t *testing.T) {
	if _, err := run(t, "broadcast", "hello"); err == nil {
		t.Fatalf("broadcast without --actor must fail")
	}
	if _, err := run(t, "delete-user", "bob"); err == nil {
		t.Fatalf("delete-user without --actor must fail")
	}
}
