package crawler

// Scripts evaluated in the page. Element scripts run with `this` bound to
// the element.

const jsDetectSPA = `() => {
	// React
	if (window.__REACT_DEVTOOLS_GLOBAL_HOOK__ || document.querySelector('[data-reactroot]') || document.querySelector('#__next')) return true;
	// Vue
	if (window.__VUE__ || document.querySelector('[data-v-]')) return true;
	// Angular
	if (window.ng || document.querySelector('[ng-version]') || document.querySelector('app-root')) return true;
	// Svelte
	if (document.querySelector('[class*="svelte-"]')) return true;
	return false;
}`

const jsVisibleControlCount = `() => {
	let visible = 0;
	document.querySelectorAll('button, [role="button"], input:not([type="hidden"]), textarea, a[href]').forEach(el => {
		if (el.offsetParent) visible++;
	});
	return visible;
}`

const jsHasText = `(sel, text) => {
	const needle = text.toLowerCase();
	return Array.from(document.querySelectorAll(sel)).filter(el =>
		(el.textContent || '').replace(/\s+/g, ' ').toLowerCase().includes(needle));
}`

// jsByText returns the deepest elements whose text contains the needle
const jsByText = `(needle) => {
	const n = needle.replace(/\s+/g, ' ').trim().toLowerCase();
	const text = el => (el.textContent || '').replace(/\s+/g, ' ').toLowerCase();
	const out = [];
	if (!document.body) return out;
	for (const el of document.body.querySelectorAll('*')) {
		const tag = el.tagName.toLowerCase();
		if (tag === 'script' || tag === 'style') continue;
		if (!text(el).includes(n)) continue;
		let deeper = false;
		for (const c of el.children) {
			if (text(c).includes(n)) { deeper = true; break; }
		}
		if (!deeper) out.push(el);
	}
	return out;
}`

// jsByRole mirrors locator.ImplicitRole
const jsByRole = `(role) => {
	const implicit = el => {
		const tag = el.tagName.toLowerCase();
		const type = (el.getAttribute('type') || '').toLowerCase();
		switch (tag) {
		case 'button': return 'button';
		case 'input':
			if (['button', 'submit', 'reset', 'image'].includes(type)) return 'button';
			if (type === 'checkbox') return 'checkbox';
			if (type === 'radio') return 'radio';
			if (['', 'text', 'email', 'search', 'tel', 'url'].includes(type)) return 'textbox';
			return '';
		case 'textarea': return 'textbox';
		case 'a': return el.hasAttribute('href') ? 'link' : '';
		case 'select': return 'combobox';
		case 'table': return 'table';
		case 'ul': case 'ol': return 'list';
		case 'li': return 'listitem';
		case 'nav': return 'navigation';
		case 'dialog': return 'dialog';
		case 'img': return 'img';
		case 'h1': case 'h2': case 'h3': case 'h4': case 'h5': case 'h6': return 'heading';
		}
		return '';
	};
	return Array.from(document.querySelectorAll('*')).filter(el => {
		const explicit = (el.getAttribute('role') || '').trim().split(/\s+/)[0];
		return (explicit || implicit(el)) === role;
	});
}`

const jsFormControls = `() => Array.from(document.querySelectorAll('input, textarea, select'))
	.filter(el => (el.getAttribute('type') || '').toLowerCase() !== 'hidden')`

const jsLabelText = `function () {
	const el = this;
	const parts = [];
	if (el.labels) for (const l of el.labels) parts.push(l.textContent || '');
	const aria = el.getAttribute('aria-label');
	if (aria) parts.push(aria);
	const by = el.getAttribute('aria-labelledby');
	if (by) for (const id of by.split(/\s+/)) {
		const n = document.getElementById(id);
		if (n) parts.push(n.textContent || '');
	}
	return parts.join(' ').replace(/\s+/g, ' ').trim();
}`

const jsAccessibleName = `function () {
	const el = this;
	const aria = el.getAttribute('aria-label');
	if (aria && aria.trim()) return aria.trim();
	const by = el.getAttribute('aria-labelledby');
	if (by) {
		const t = by.split(/\s+/).map(id => document.getElementById(id)).filter(Boolean)
			.map(n => n.textContent || '').join(' ').replace(/\s+/g, ' ').trim();
		if (t) return t;
	}
	const tag = el.tagName.toLowerCase();
	const type = (el.getAttribute('type') || '').toLowerCase();
	if ((tag === 'input' && !['button', 'submit', 'reset', 'image'].includes(type)) || tag === 'textarea' || tag === 'select') {
		const l = el.labels ? Array.from(el.labels).map(n => n.textContent || '').join(' ').trim() : '';
		if (l) return l.replace(/\s+/g, ' ');
	}
	const text = (el.innerText || el.textContent || '').replace(/\s+/g, ' ').trim();
	if (text) return text;
	return (el.getAttribute('value') || el.getAttribute('title') || el.getAttribute('alt') || el.getAttribute('placeholder') || '').trim();
}`

const jsText = `function () {
	const el = this;
	const t = (el.innerText || el.textContent || '').replace(/\s+/g, ' ').trim();
	return t || (el.getAttribute('aria-label') || '').trim();
}`
