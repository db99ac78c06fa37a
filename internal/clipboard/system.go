package clipboard

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
)

var errUnsupported = errors.New("no clipboard utility available")

type systemBackend struct{}

func (systemBackend) ReadAll() (string, error) {
	if clipboard.Unsupported {
		return "", errUnsupported
	}
	return clipboard.ReadAll()
}

func (systemBackend) WriteAll(text string) error {
	if clipboard.Unsupported {
		return errUnsupported
	}
	return clipboard.WriteAll(text)
}

// uinput devices on Linux are not usable until the desktop has picked them up.
const linuxKeyboardWarmup = 2 * time.Second

type keyboard struct {
	once sync.Once
	kb   keybd_event.KeyBonding
	err  error
}

func newKeyboard() *keyboard {
	return &keyboard{}
}

func (k *keyboard) init() {
	k.kb, k.err = keybd_event.NewKeyBonding()
	if k.err != nil {
		return
	}
	if runtime.GOOS == "linux" {
		time.Sleep(linuxKeyboardWarmup)
	}
}

// Paste sends Cmd+V on macOS and Ctrl+V elsewhere.
func (k *keyboard) Paste() error {
	k.once.Do(k.init)
	if k.err != nil {
		return k.err
	}

	k.kb.Clear()
	if runtime.GOOS == "darwin" {
		k.kb.HasSuper(true)
	} else {
		k.kb.HasCTRL(true)
	}
	k.kb.SetKeys(keybd_event.VK_V)
	return k.kb.Launching()
}
