package engine

// RemoveOverlaysJS deletes fixed or sticky elements with a high z-index and
// common consent/popup containers, then restores page scrolling. It is a
// function expression so rod can Eval it directly.
const RemoveOverlaysJS = `() => {
	const els = document.querySelectorAll('*');
	for (const el of els) {
		const style = window.getComputedStyle(el);
		const pos = style.position;
		if (pos === 'fixed' || pos === 'sticky') {
			const z = parseInt(style.zIndex, 10);
			if (z >= 900 || style.zIndex === 'auto') {
				el.remove();
			}
		}
	}
	const selectors = [
		'[class*="cookie"]', '[class*="consent"]', '[class*="overlay"]',
		'[id*="cookie"]', '[id*="consent"]', '[id*="overlay"]',
		'[class*="popup"]', '[id*="popup"]',
		'[class*="gdpr"]', '[id*="gdpr"]',
	];
	for (const sel of selectors) {
		document.querySelectorAll(sel).forEach(el => {
			const style = window.getComputedStyle(el);
			if (style.position === 'fixed' || style.position === 'sticky' || style.position === 'absolute') {
				el.remove();
			}
		});
	}
	document.documentElement.style.overflow = '';
	if (document.body) document.body.style.overflow = '';
}`

// NavigationStatusJS reads the HTTP status of the main document from the
// performance API, or 0 when unavailable.
const NavigationStatusJS = `() => {
	try {
		const entries = performance.getEntriesByType("navigation");
		if (entries.length > 0) return entries[0].responseStatus || 0;
	} catch(e) {}
	return 0;
}`
