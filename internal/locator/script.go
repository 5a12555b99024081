package locator

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TargetAttr is set on a resolved element so chromedp actions can address it
// with a plain CSS selector.
const TargetAttr = "data-scalpel-target"

// Probe is the in-page view of a locator at one instant.
type Probe struct {
	// Count is the number of matches, rendered or not.
	Count   int     `json:"count"`
	Found   bool    `json:"found"`
	Visible bool    `json:"visible"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Text    string  `json:"text"`
}

// resolver defines __resolve(desc) returning the ordered matches and
// __visible(el). Every exported script wraps it in an IIFE and always returns
// a value, since an undefined result cannot be unmarshaled.
const resolver = `
const __norm = (s) => (s || '').replace(/\s+/g, ' ').trim();
const __match = (desc, text, want) => {
  const t = __norm(text);
  const w = __norm(want);
  return desc.exact ? t === w : t.toLowerCase().includes(w.toLowerCase());
};
const __visible = (el) => {
  if (!el || !el.isConnected) return false;
  const st = window.getComputedStyle(el);
  if (st.visibility === 'hidden' || st.display === 'none') return false;
  const r = el.getBoundingClientRect();
  return r.width > 0 && r.height > 0;
};
const __roles = {
  heading: 'h1,h2,h3,h4,h5,h6,[role="heading"]',
  button: 'button,[role="button"],input[type="button"],input[type="submit"]',
  textbox: 'input:not([type]),input[type="text"],input[type="search"],input[type="email"],input[type="password"],textarea,[role="textbox"],[contenteditable="true"]',
  link: 'a[href],[role="link"]',
};
const __name = (el) => el.getAttribute('aria-label') || el.innerText || el.value || el.getAttribute('placeholder') || el.getAttribute('title') || '';
const __resolve = (desc) => {
  const all = (sel) => Array.from(document.querySelectorAll(sel));
  switch (desc.kind) {
  case 'testid':
    return all('[data-testid="' + CSS.escape(desc.value) + '"]');
  case 'css': {
    const els = all(desc.value);
    return desc.hasText ? els.filter((el) => __match(desc, el.textContent, desc.hasText)) : els;
  }
  case 'placeholder':
    return all('[placeholder]').filter((el) => __match(desc, el.getAttribute('placeholder'), desc.value));
  case 'role': {
    const els = all(__roles[desc.value] || '__none__');
    return desc.name ? els.filter((el) => __match(desc, __name(el), desc.name)) : els;
  }
  case 'text': {
    if (!document.body) return [];
    const skip = new Set(['SCRIPT', 'STYLE', 'NOSCRIPT', 'TEMPLATE', 'HEAD']);
    return Array.from(document.body.querySelectorAll('*')).filter((el) => {
      if (skip.has(el.tagName) || !__match(desc, el.textContent, desc.value)) return false;
      return !Array.from(el.children).some((c) => !skip.has(c.tagName) && __match(desc, c.textContent, desc.value));
    });
  }
  }
  return [];
};
const __pick = (desc) => {
  const els = __resolve(desc);
  const i = desc.index < 0 ? els.length + desc.index : desc.index;
  return { els, el: (i >= 0 && i < els.length) ? els[i] : null };
};
`

func specJSON(l Locator) string {
	b, err := json.Marshal(l)
	if err != nil {
		// Locator holds only strings, ints and bools.
		panic(fmt.Sprintf("locator: marshal %v: %v", l, err))
	}
	return string(b)
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// ProbeScript evaluates to a Probe for l.
func ProbeScript(l Locator) string {
	return fmt.Sprintf(`(() => {%s
const { els, el } = __pick(%s);
const out = { count: els.length, found: !!el, visible: false, x: 0, y: 0, width: 0, height: 0, text: '' };
if (el) {
  const r = el.getBoundingClientRect();
  out.visible = __visible(el);
  out.x = r.x; out.y = r.y; out.width = r.width; out.height = r.height;
  out.text = __norm(el.innerText || el.textContent).slice(0, 200);
}
return out;
})()`, resolver, specJSON(l))
}

// MarkScript tags the picked element with TargetAttr=token, scrolls it into
// view and evaluates to its Probe. Any previous holder of the token is cleared.
func MarkScript(l Locator, token string) string {
	return fmt.Sprintf(`(() => {%s
const token = %s;
document.querySelectorAll('[%s="' + token + '"]').forEach((e) => e.removeAttribute('%s'));
const { els, el } = __pick(%s);
const out = { count: els.length, found: !!el, visible: false, x: 0, y: 0, width: 0, height: 0, text: '' };
if (el) {
  el.setAttribute('%s', token);
  if (el.scrollIntoViewIfNeeded) el.scrollIntoViewIfNeeded(true); else el.scrollIntoView({ block: 'center' });
  const r = el.getBoundingClientRect();
  out.visible = __visible(el);
  out.x = r.x; out.y = r.y; out.width = r.width; out.height = r.height;
  out.text = __norm(el.innerText || el.textContent).slice(0, 200);
}
return out;
})()`, resolver, jsString(token), TargetAttr, TargetAttr, specJSON(l), TargetAttr)
}

// Selector returns the CSS selector addressing an element marked with token.
func Selector(token string) string {
	return fmt.Sprintf(`[%s="%s"]`, TargetAttr, token)
}

// TextPresentScript evaluates to true when the rendered body text contains s.
func TextPresentScript(s string) string {
	return fmt.Sprintf(`(() => !!document.body && document.body.innerText.includes(%s))()`, jsString(s))
}
