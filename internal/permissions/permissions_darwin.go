//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation
#import <AVFoundation/AVFoundation.h>

int checkPermission(int video) {
    AVMediaType type = video ? AVMediaTypeVideo : AVMediaTypeAudio;
    return (int)[AVCaptureDevice authorizationStatusForMediaType:type];
}

void requestPermission(int video) {
    AVMediaType type = video ? AVMediaTypeVideo : AVMediaTypeAudio;
    [AVCaptureDevice requestAccessForMediaType:type completionHandler:^(BOOL granted) {}];
}
*/
import "C"

import (
	"errors"
	"fmt"
)

const (
	PermissionNotDetermined = 0
	PermissionRestricted    = 1
	PermissionDenied        = 2
	PermissionAuthorized    = 3
)

func boolInt(b bool) C.int {
	if b {
		return 1
	}
	return 0
}

// CheckCamera returns the current camera permission status
func CheckCamera() int {
	return int(C.checkPermission(boolInt(true)))
}

// CheckMicrophone returns the current microphone permission status
func CheckMicrophone() int {
	return int(C.checkPermission(boolInt(false)))
}

// EnsurePermissions checks and requests access for the streams that will be
// captured.
func EnsurePermissions(audio, video bool) error {
	var errs []error
	if audio && CheckMicrophone() != PermissionAuthorized {
		fmt.Println("⚠️  Microphone permission required")
		C.requestPermission(boolInt(false))
		errs = append(errs, errors.New("microphone permission not granted"))
	}
	if video && CheckCamera() != PermissionAuthorized {
		fmt.Println("⚠️  Camera permission required")
		fmt.Println("   Go to: System Settings → Privacy & Security → Camera")
		C.requestPermission(boolInt(true))
		errs = append(errs, errors.New("camera permission not granted"))
	}
	return errors.Join(errs...)
}
