package browser

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

type keyDef struct {
	key     string
	code    string
	keyCode int64
	text    string
}

var namedKeys = map[string]keyDef{
	"enter":      {"Enter", "Enter", 13, "\r"},
	"escape":     {"Escape", "Escape", 27, ""},
	"tab":        {"Tab", "Tab", 9, ""},
	"backspace":  {"Backspace", "Backspace", 8, ""},
	"delete":     {"Delete", "Delete", 46, ""},
	"space":      {" ", "Space", 32, " "},
	"arrowup":    {"ArrowUp", "ArrowUp", 38, ""},
	"arrowdown":  {"ArrowDown", "ArrowDown", 40, ""},
	"arrowleft":  {"ArrowLeft", "ArrowLeft", 37, ""},
	"arrowright": {"ArrowRight", "ArrowRight", 39, ""},
	"home":       {"Home", "Home", 36, ""},
	"end":        {"End", "End", 35, ""},
}

type modifierDef struct {
	keyDef
	flag input.Modifier
}

var modifierKeys = map[string]modifierDef{
	"control": {keyDef{"Control", "ControlLeft", 17, ""}, input.ModifierCtrl},
	"ctrl":    {keyDef{"Control", "ControlLeft", 17, ""}, input.ModifierCtrl},
	"shift":   {keyDef{"Shift", "ShiftLeft", 16, ""}, input.ModifierShift},
	"alt":     {keyDef{"Alt", "AltLeft", 18, ""}, input.ModifierAlt},
	"meta":    {keyDef{"Meta", "MetaLeft", 91, ""}, input.ModifierMeta},
}

// KeyCombo is a parsed shortcut such as "Control+k" or "Enter".
type KeyCombo struct {
	raw       string
	modifiers []modifierDef
	flags     input.Modifier
	key       keyDef
}

// ParseCombo reads "Mod+Mod+Key". Modifiers are Control (Ctrl), Shift, Alt and
// Meta; the key is a single character or a named key like Enter or Escape.
// The plus key itself is written as a trailing "+", e.g. "Control++".
func ParseCombo(s string) (KeyCombo, error) {
	parts := strings.Split(s, "+")
	if s == "+" || strings.HasSuffix(s, "++") {
		parts = append(parts[:len(parts)-2], "+")
	}
	combo := KeyCombo{raw: s}
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return KeyCombo{}, fmt.Errorf("key combo %q: empty segment", s)
		}
		last := i == len(parts)-1
		if m, ok := modifierKeys[strings.ToLower(p)]; ok && !last {
			if combo.flags&m.flag != 0 {
				return KeyCombo{}, fmt.Errorf("key combo %q: repeated modifier %s", s, m.key)
			}
			combo.modifiers = append(combo.modifiers, m)
			combo.flags |= m.flag
			continue
		}
		if !last {
			return KeyCombo{}, fmt.Errorf("key combo %q: unknown modifier %q", s, p)
		}
		k, err := lookupKey(p, combo.flags&input.ModifierShift != 0)
		if err != nil {
			return KeyCombo{}, fmt.Errorf("key combo %q: %w", s, err)
		}
		combo.key = k
	}
	return combo, nil
}

func lookupKey(name string, shift bool) (keyDef, error) {
	if k, ok := namedKeys[strings.ToLower(name)]; ok {
		return k, nil
	}
	r := []rune(name)
	if len(r) != 1 {
		return keyDef{}, fmt.Errorf("unknown key %q", name)
	}
	c := r[0]
	switch {
	case unicode.IsLetter(c) && c < unicode.MaxASCII:
		upper := unicode.ToUpper(c)
		key := string(unicode.ToLower(c))
		if shift {
			key = string(upper)
		}
		return keyDef{key: key, code: "Key" + string(upper), keyCode: int64(upper), text: key}, nil
	case unicode.IsDigit(c) && c < unicode.MaxASCII:
		return keyDef{key: string(c), code: "Digit" + string(c), keyCode: int64(c), text: string(c)}, nil
	default:
		return keyDef{key: string(c), text: string(c)}, nil
	}
}

// String returns the combo as written.
func (k KeyCombo) String() string { return k.raw }

// Actions presses the modifiers, taps the key and releases in reverse order.
// Text is only attached when no command modifier is held, the way a real
// keyboard behaves, so page handlers see a shortcut rather than typed input.
func (k KeyCombo) Actions() []chromedp.Action {
	var actions []chromedp.Action
	var held input.Modifier
	for _, m := range k.modifiers {
		held |= m.flag
		actions = append(actions, keyEvent(input.KeyRawDown, m.keyDef, held, ""))
	}

	text := k.key.text
	if k.flags&(input.ModifierCtrl|input.ModifierAlt|input.ModifierMeta) != 0 {
		text = ""
	}
	downType := input.KeyRawDown
	if text != "" {
		downType = input.KeyDown
	}
	actions = append(actions,
		keyEvent(downType, k.key, k.flags, text),
		keyEvent(input.KeyUp, k.key, k.flags, ""),
	)

	for i := len(k.modifiers) - 1; i >= 0; i-- {
		m := k.modifiers[i]
		held &^= m.flag
		actions = append(actions, keyEvent(input.KeyUp, m.keyDef, held, ""))
	}
	return actions
}

func keyEvent(t input.KeyType, k keyDef, mods input.Modifier, text string) *input.DispatchKeyEventParams {
	p := input.DispatchKeyEvent(t).
		WithKey(k.key).
		WithModifiers(mods).
		WithWindowsVirtualKeyCode(k.keyCode).
		WithNativeVirtualKeyCode(k.keyCode)
	if k.code != "" {
		p = p.WithCode(k.code)
	}
	if text != "" {
		p = p.WithText(text).WithUnmodifiedText(text)
	}
	return p
}
