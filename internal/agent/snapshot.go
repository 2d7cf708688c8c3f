package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const idAttr = "data-wr-id"

// Element 页面中的一个可交互元素
type Element struct {
	ID          int    `json:"id"`
	Tag         string `json:"tag"`
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Label       string `json:"label,omitempty"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
}

const snapshotScript = `(max) => {
  document.querySelectorAll('[data-wr-id]').forEach(e => e.removeAttribute('data-wr-id'));
  const sel = 'a,button,input,textarea,select,summary,label,img[alt],h1,h2,h3,li,' +
    '[role=button],[role=link],[role=tab],[role=menuitem],[role=checkbox],[role=option],' +
    '[onclick],[contenteditable=true],[tabindex]';
  const out = [];
  for (const el of document.querySelectorAll(sel)) {
    const r = el.getBoundingClientRect();
    if (r.width === 0 || r.height === 0) continue;
    const st = getComputedStyle(el);
    if (st.visibility === 'hidden' || st.display === 'none') continue;
    const id = out.length + 1;
    el.setAttribute('data-wr-id', String(id));
    out.push({
      id,
      tag: el.tagName.toLowerCase(),
      type: el.getAttribute('type') || '',
      text: (el.innerText || el.value || '').trim().replace(/\s+/g, ' ').slice(0, 80),
      placeholder: el.getAttribute('placeholder') || '',
      label: el.getAttribute('aria-label') || el.getAttribute('title') || el.getAttribute('alt') || '',
      x: Math.round(r.x),
      y: Math.round(r.y),
    });
    if (out.length >= max) break;
  }
  return out;
}`

const textScript = `(max) => (document.body ? document.body.innerText : '').slice(0, max)`

const scrollElementScript = `([sel, dx, dy]) => {
  const el = document.querySelector(sel);
  if (!el) throw new Error('element not found: ' + sel);
  el.scrollBy(dx, dy);
}`

func selectorFor(id int) string {
	return fmt.Sprintf(`[%s="%d"]`, idAttr, id)
}

func (a *Agent) snapshot(ctx context.Context) ([]Element, error) {
	raw, err := a.page.Evaluate(ctx, snapshotScript, a.config.MaxElements)
	if err != nil {
		return nil, fmt.Errorf("snapshot elements: %w", err)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("snapshot elements: %w", err)
	}
	var elements []Element
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("snapshot elements: %w", err)
	}
	return elements, nil
}

func (a *Agent) pageText(ctx context.Context) (string, error) {
	raw, err := a.page.Evaluate(ctx, textScript, a.config.MaxTextLength)
	if err != nil {
		return "", fmt.Errorf("read page text: %w", err)
	}
	s, _ := raw.(string)
	return s, nil
}

func formatElements(elements []Element) string {
	var sb strings.Builder
	for _, e := range elements {
		fmt.Fprintf(&sb, "[%d] <%s", e.ID, e.Tag)
		if e.Type != "" {
			fmt.Fprintf(&sb, " type=%s", e.Type)
		}
		sb.WriteString(">")
		if e.Text != "" {
			fmt.Fprintf(&sb, " %q", e.Text)
		}
		if e.Placeholder != "" {
			fmt.Fprintf(&sb, " placeholder=%q", e.Placeholder)
		}
		if e.Label != "" {
			fmt.Fprintf(&sb, " label=%q", e.Label)
		}
		fmt.Fprintf(&sb, " @(%d,%d)\n", e.X, e.Y)
	}
	return sb.String()
}
