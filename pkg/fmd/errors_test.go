package fmd

import (
	"errors"
	"strings"
	"testing"
)

func Test_Wrap_AttachesContextAndClassifiesWithErrorsIs(t *testing.T) {
	t.Parallel()

	err := wrap(ErrCorruptCRC, withFSID(7), withFID(0x100), withOffset(256))

	if !errors.Is(err, ErrCorruptCRC) {
		t.Fatal("errors.Is does not classify wrapped error against sentinel")
	}

	var ferr *Error

	if !errors.As(err, &ferr) {
		t.Fatal("errors.As failed to recover *Error")
	}

	if ferr.FSID != 7 || ferr.FID != 0x100 || !ferr.HasFID || ferr.Offset != 256 {
		t.Fatalf("unexpected *Error fields: %+v", ferr)
	}
}

func Test_Wrap_DoesNotDoubleWrap_AnExistingError(t *testing.T) {
	t.Parallel()

	inner := wrap(ErrNotFound, withFSID(1))
	outer := wrap(inner)

	var ferr *Error

	if !errors.As(outer, &ferr) {
		t.Fatal("errors.As failed to recover *Error")
	}

	if ferr.FSID != 1 {
		t.Fatalf("FSID = %d, want 1 (preserved from inner wrap)", ferr.FSID)
	}
}

func Test_Wrap_NilError_ReturnsNil(t *testing.T) {
	t.Parallel()

	if wrap(nil) != nil {
		t.Fatal("wrap(nil) did not return nil")
	}
}

func Test_Error_Error_IncludesContextSuffix(t *testing.T) {
	t.Parallel()

	err := wrap(ErrNotFound, withFSID(3), withFID(0x42))

	msg := err.Error()
	if msg == "" {
		t.Fatal("Error() returned empty string")
	}

	if !strings.Contains(msg, "(fsid=3 fid=0x42)") {
		t.Fatalf("Error() = %q, want it to contain the context suffix %q", msg, "(fsid=3 fid=0x42)")
	}
}
