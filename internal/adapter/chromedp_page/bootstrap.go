package chromedp_page

const (
	mutationsBinding = "__lumosMutations"
	loadedBinding    = "__lumosLoaded"
)

// bootstrapScript installs window.__lumos, the in-page half of the
// adapter. Elements are addressed by numeric handles held through WeakRef
// so the registry never keeps a node alive. Every function returns a
// value; Evaluate rejects undefined.
const bootstrapScript = `(() => {
  if (window.__lumos) return true;
  const ids = new WeakMap();
  const refs = new Map();
  let next = 1;
  let observer = null;

  const idOf = (el) => {
    let id = ids.get(el);
    if (!id) {
      id = next++;
      ids.set(el, id);
      refs.set(id, new WeakRef(el));
    }
    return id;
  };
  const get = (id) => {
    const ref = refs.get(id);
    const el = ref ? ref.deref() : undefined;
    if (!el) {
      refs.delete(id);
      return null;
    }
    return el;
  };
  const elements = (nodes) => Array.from(nodes).filter((n) => n.nodeType === 1).map(idOf);

  window.__lumos = {
    url: () => location.href,
    body: () => (document.body ? idOf(document.body) : 0),
    queryAll: (sel) => Array.from(document.querySelectorAll(sel)).map(idOf),
    alive: (id) => get(id) !== null,
    tag: (id) => { const el = get(id); return el ? el.tagName.toLowerCase() : ""; },
    attr: (id, name) => { const el = get(id); return el && el.hasAttribute(name) ? el.getAttribute(name) : null; },
    setAttr: (id, name, value) => { const el = get(id); if (!el || !el.isConnected) return false; el.setAttribute(name, value); return true; },
    removeAttr: (id, name) => { const el = get(id); if (!el || !el.isConnected) return false; el.removeAttribute(name); return true; },
    connected: (id) => { const el = get(id); return !!el && el.isConnected; },
    src: (id) => { const el = get(id); return el ? (el.currentSrc || el.getAttribute("src") || "") : ""; },
    rect: (id) => {
      const el = get(id);
      if (!el || !el.isConnected) return { x: 0, y: 0, width: 0, height: 0 };
      const r = el.getBoundingClientRect();
      return { x: r.x + window.scrollX, y: r.y + window.scrollY, width: r.width, height: r.height };
    },
    natural: (id) => { const el = get(id); return { width: (el && el.naturalWidth) || 0, height: (el && el.naturalHeight) || 0 }; },
    complete: (id) => { const el = get(id); return !el || el.complete !== false; },
    onceLoaded: (id) => {
      const el = get(id);
      if (!el) return false;
      el.addEventListener("load", () => window.` + loadedBinding + `(String(id)), { once: true });
      return true;
    },
    descendants: (id, tag) => { const el = get(id); return el ? Array.from(el.getElementsByTagName(tag)).map(idOf) : []; },
    contains: (id, other) => { const a = get(id); const b = get(other); return !!a && !!b && a.contains(b); },
    createRegion: () => {
      if (!document.body) return 0;
      const d = document.createElement("div");
      d.setAttribute("role", "status");
      d.setAttribute("aria-live", "polite");
      d.setAttribute("aria-atomic", "true");
      d.setAttribute("data-lumos-live-region", "true");
      d.style.cssText = "position:absolute;width:1px;height:1px;margin:-1px;overflow:hidden;clip:rect(0 0 0 0);white-space:nowrap;border:0;";
      document.body.appendChild(d);
      return idOf(d);
    },
    setText: (id, text) => { const el = get(id); if (!el) return false; el.textContent = text; return true; },
    text: (id) => { const el = get(id); return el ? el.textContent : ""; },
    remove: (id) => { const el = get(id); if (el) el.remove(); return true; },
    observe: (attrs) => {
      if (observer) observer.disconnect();
      observer = new MutationObserver((records) => {
        const out = records.map((r) => ({
          kind: r.type === "attributes" ? 2 : 1,
          target: idOf(r.target),
          added: elements(r.addedNodes),
          removed: elements(r.removedNodes),
          attr: r.attributeName || "",
        }));
        window.` + mutationsBinding + `(JSON.stringify(out));
      });
      const opts = { childList: true, subtree: true };
      if (attrs.length > 0) {
        opts.attributes = true;
        opts.attributeFilter = attrs;
      }
      observer.observe(document.documentElement, opts);
      return true;
    },
    disconnect: () => { if (observer) observer.disconnect(); observer = null; return true; },
  };
  return true;
})()`
