package cdp

// bindingName 页面内变更观察器回调 Go 端使用的绑定名
const bindingName = "livemodMutations"

// runtimeScript 幂等安装的页面内运行时。
// 元素以字符串令牌暴露给 Go 端，令牌只持有 WeakRef，元素被回收或脱离文档后读作失效。
// 元素被回收时由 FinalizationRegistry 删除对应令牌。
// 所有方法返回可 JSON 序列化的对象，失效时返回 {stale: true}。
const runtimeScript = `(() => {
  if (window.__livemod) return window.__livemod;
  const refs = new Map();
  const tokens = new WeakMap();
  const observers = new Map();
  const reaper = new FinalizationRegistry((t) => refs.delete(t));
  let seq = 0;
  const tok = (el) => {
    let t = tokens.get(el);
    if (!t) {
      t = 'e' + (++seq);
      tokens.set(el, t);
      refs.set(t, new WeakRef(el));
      reaper.register(el, t);
    }
    return t;
  };
  const get = (t) => {
    if (t === '') return document;
    const ref = refs.get(t);
    const el = ref && ref.deref();
    if (!el) {
      refs.delete(t);
      return null;
    }
    return el;
  };
  const gesture = (el) => {
    const rect = el.getBoundingClientRect();
    const clientX = Math.floor(rect.left + rect.width / 2);
    const clientY = Math.floor(rect.top + rect.height / 2);
    if (typeof el.focus === 'function') el.focus();
    const pointer = { pointerId: 1, pointerType: 'mouse', isPrimary: true };
    const base = { bubbles: true, cancelable: true, button: 0, clientX, clientY };
    el.dispatchEvent(new PointerEvent('pointerdown', { ...base, ...pointer, buttons: 1 }));
    el.dispatchEvent(new MouseEvent('mousedown', { ...base, buttons: 1 }));
    el.dispatchEvent(new PointerEvent('pointerup', { ...base, ...pointer, buttons: 0 }));
    el.dispatchEvent(new MouseEvent('mouseup', { ...base, buttons: 0 }));
    el.dispatchEvent(new MouseEvent('click', base));
  };
  const api = {
    queryAll(root, sel) {
      const r = get(root);
      if (!r) return { stale: true };
      return { handles: Array.from(r.querySelectorAll(sel), tok) };
    },
    attr(h, name) {
      const el = get(h);
      if (!el) return { stale: true };
      return { value: el.getAttribute(name) || '', present: el.hasAttribute(name) };
    },
    text(h) {
      const el = get(h);
      if (!el) return { stale: true };
      return { value: el.textContent || '' };
    },
    byId(id) {
      const el = document.getElementById(id);
      return el ? { handle: tok(el) } : {};
    },
    attached(h) {
      const el = get(h);
      return { value: !!el && (el === document || el.isConnected) };
    },
    reveal(h) {
      const el = get(h);
      if (!el || !el.isConnected) return { stale: true };
      el.scrollIntoView({ block: 'center', inline: 'center' });
      return {};
    },
    activate(h) {
      const el = get(h);
      if (!el || !el.isConnected) return { stale: true };
      gesture(el);
      return {};
    },
    observe(h, binding) {
      const el = get(h);
      if (!el) return { stale: true };
      const id = 'o' + (++seq);
      const mo = new MutationObserver((records) => {
        const added = [];
        for (const rec of records) {
          for (const n of rec.addedNodes) {
            if (n.nodeType === Node.ELEMENT_NODE) added.push(tok(n));
          }
        }
        if (added.length && typeof window[binding] === 'function') {
          window[binding](JSON.stringify({ observer: id, added }));
        }
      });
      mo.observe(el, { childList: true, subtree: true });
      observers.set(id, mo);
      return { observer: id };
    },
    disconnect(id) {
      const mo = observers.get(id);
      if (mo) {
        mo.disconnect();
        observers.delete(id);
      }
      return {};
    },
  };
  Object.defineProperty(window, '__livemod', { value: api, configurable: true });
  return api;
})()`
