//go:build linux && (amd64 || arm64)

package device

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-camera-hal/internal/metadata"
)

func stubControls(t *testing.T, fn func(fd int, cid uint32, value int32) error) {
	t.Helper()
	orig := setControl
	setControl = fn
	t.Cleanup(func() { setControl = orig })
}

func TestApplySettingsSkipsRejectedControls(t *testing.T) {
	stubControls(t, func(fd int, cid uint32, value int32) error {
		if cid == cidContrast {
			return unix.EINVAL
		}
		return nil
	})

	d := &V4L2{fd: 3}
	s := metadata.NewBuilder().
		SetU32(metadata.TagBrightness, 128).
		SetU32(metadata.TagContrast, 40).
		Build()
	if err := d.ApplySettings(s); err != nil {
		t.Fatal(err)
	}

	active := d.ActiveSettings()
	if v, ok := active.U32(metadata.TagBrightness); !ok || v != 128 {
		t.Errorf("brightness %d, %v", v, ok)
	}
	if _, ok := active.U32(metadata.TagContrast); ok {
		t.Error("rejected control reported as applied")
	}
}

func TestApplySettingsAllRejectedLeavesSnapshotEmpty(t *testing.T) {
	stubControls(t, func(fd int, cid uint32, value int32) error {
		return unix.EINVAL
	})

	d := &V4L2{fd: 3}
	s := metadata.NewBuilder().SetU32(metadata.TagBrightness, 128).Build()
	if err := d.ApplySettings(s); err != nil {
		t.Fatal(err)
	}
	if d.ActiveSettings().Len() != 0 {
		t.Error("snapshot carries controls the driver refused")
	}
}
