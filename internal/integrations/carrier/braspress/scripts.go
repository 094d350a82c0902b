package braspress

// disableScrollScript runs before any page script and turns the
// scroll-into-view family into no-ops; the portal's jank detection reacts to
// programmatic scrolling.
const disableScrollScript = `(() => {
  const noop = function () {};
  Element.prototype.scrollIntoView = noop;
  if (Element.prototype.scrollIntoViewIfNeeded) {
    Element.prototype.scrollIntoViewIfNeeded = noop;
  }
})();`

// overlayScript hides fixed/absolute elements with a high z-index that cover
// most of the viewport and sit over its centre. It walks open shadow roots
// and never clicks anything. Returns the number of hidden elements.
const overlayScript = `(() => {
  const w = window.innerWidth, h = window.innerHeight;
  const cx = w / 2, cy = h / 2, area = w * h;
  let hidden = 0;

  const isOverlay = (el) => {
    if (!el || el.nodeType !== 1 || el.id === 'iframe-tracking') return false;
    const st = getComputedStyle(el);
    if (st.display === 'none' || (st.position !== 'fixed' && st.position !== 'absolute')) return false;
    const z = parseInt(st.zIndex, 10);
    if (isNaN(z) || z < 100) return false;
    const r = el.getBoundingClientRect();
    if (r.width * r.height < area * 0.4) return false;
    return r.left <= cx && r.right >= cx && r.top <= cy && r.bottom >= cy;
  };
  const hide = (el) => {
    el.style.setProperty('display', 'none', 'important');
    el.style.setProperty('pointer-events', 'none', 'important');
    hidden++;
  };
  const walk = (root) => {
    for (const el of root.querySelectorAll('*')) {
      if (isOverlay(el)) hide(el);
      if (el.shadowRoot) walk(el.shadowRoot);
    }
  };
  walk(document);

  let top = document.elementFromPoint(cx, cy);
  while (top && top.shadowRoot) {
    const inner = top.shadowRoot.elementFromPoint(cx, cy);
    if (!inner || inner === top) break;
    top = inner;
  }
  if (top && top !== document.body && top !== document.documentElement && isOverlay(top)) hide(top);
  return hidden;
})()`
