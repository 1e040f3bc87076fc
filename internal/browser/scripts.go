package browser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/snapfeed/postshot/internal/capture"
	"github.com/snapfeed/postshot/internal/platform"
)

// targetAttr marks the resolved post container in the DOM so later
// evaluation steps and the element screenshot can find it again.
const targetAttr = "data-postshot-target"

const targetSelector = "[" + targetAttr + "]"

const clearTargetJS = `document.querySelectorAll('[` + targetAttr + `]').forEach((el) => el.removeAttribute('` + targetAttr + `'));`

// anchorResolveScript builds a script that locates the post container by
// walking up from an anchor whose href matches a fragment of the post URL.
// Returns false when the platform has no anchored strategy for this URL.
func anchorResolveScript(p capture.Platform, rawURL string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	containerSel := platform.AnchorContainer(p)
	if containerSel == "" {
		return "", false
	}

	var anchorSel string
	switch p {
	case capture.PlatformThreads:
		path := strings.TrimSuffix(parsed.Path, "/")
		if !strings.Contains(path, "/post/") {
			return "", false
		}
		anchorSel = fmt.Sprintf(`a[href*="%s"], a[href*="%s/"]`, path, path)
	case capture.PlatformInstagram:
		parts := splitPath(parsed.Path)
		idx := -1
		for i, part := range parts {
			if part == "p" || part == "reel" {
				idx = i
				break
			}
		}
		if idx == -1 || idx+1 >= len(parts) {
			return "", false
		}
		anchorSel = fmt.Sprintf(`a[href*="/%s/%s"]`, parts[idx], parts[idx+1])
	case capture.PlatformFacebook:
		parts := splitPath(parsed.Path)
		if len(parts) == 0 {
			return "", false
		}
		anchorSel = fmt.Sprintf(`a[href*="%s"]`, parts[len(parts)-1])
	default:
		return "", false
	}

	script := fmt.Sprintf(`(() => {
		%s
		const anchor = document.querySelector(%q);
		if (!anchor) { return false; }
		const container = anchor.closest(%q);
		if (!container) { return false; }
		const rect = container.getBoundingClientRect();
		if (rect.width < 20 || rect.height < 20) { return false; }
		container.setAttribute(%q, '');
		return true;
	})()`, clearTargetJS, anchorSel, containerSel, targetAttr)
	return script, true
}

// genericResolveScript builds a script that tags the first visible match of
// the platform's post container selectors.
func genericResolveScript(selectors []string) string {
	quoted := make([]string, len(selectors))
	for i, sel := range selectors {
		quoted[i] = fmt.Sprintf("%q", sel)
	}
	return fmt.Sprintf(`(() => {
		%s
		const selectors = [%s];
		for (const selector of selectors) {
			const el = document.querySelector(selector);
			if (!el) { continue; }
			const rect = el.getBoundingClientRect();
			if (rect.width < 20 || rect.height < 20) { continue; }
			el.setAttribute(%q, '');
			return true;
		}
		return false;
	})()`, clearTargetJS, strings.Join(quoted, ", "), targetAttr)
}

const pageTextJS = `(document.body ? document.body.innerText : '').slice(0, 4000)`

// contentTextScript extracts the post body text from the tagged container,
// preferring the platform's caption locators and falling back to the
// container's full inner text. Instagram captions are scattered across
// several nodes, so its matches are joined; elsewhere the first non-empty
// match wins.
func contentTextScript(p capture.Platform) string {
	locators := strings.Join(platform.ContentLocators(p), ", ")
	if locators == "" {
		return fmt.Sprintf(`(() => {
			const el = document.querySelector(%q);
			return el ? (el.innerText || '') : '';
		})()`, targetSelector)
	}

	if p == capture.PlatformInstagram {
		return fmt.Sprintf(`(() => {
			const el = document.querySelector(%q);
			if (!el) { return ''; }
			const candidates = [];
			for (const node of el.querySelectorAll(%q)) {
				const value = (node.textContent || '').trim();
				if (value) { candidates.push(value); }
			}
			const joined = candidates.join('\n');
			if (joined.trim()) { return joined; }
			return el.innerText || '';
		})()`, targetSelector, locators)
	}

	return fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) { return ''; }
		const node = el.querySelector(%q);
		if (node) {
			const text = (node.innerText || '').trim();
			if (text) { return text; }
		}
		return el.innerText || '';
	})()`, targetSelector, locators)
}

const scrollIntoViewJS = `(() => {
	const el = document.querySelector('[data-postshot-target]');
	if (el) { el.scrollIntoView({ block: 'center', inline: 'nearest' }); }
	return true;
})()`

// mediaReadyJS reports whether every image inside the tagged container has
// finished loading with plausible dimensions. Containers without images
// count as ready.
const mediaReadyJS = `(() => {
	const el = document.querySelector('[data-postshot-target]');
	if (!el) { return true; }
	const imgs = Array.from(el.querySelectorAll('img'));
	if (imgs.length === 0) { return true; }
	return imgs.every((img) => img.complete && img.naturalWidth > 24 && img.naturalHeight > 24);
})()`

// targetRectJS returns the tagged container's bounding box in absolute page
// coordinates, which is what the screenshot clip expects.
const targetRectJS = `(() => {
	const el = document.querySelector('[data-postshot-target]');
	if (!el) { return { ok: false, x: 0, y: 0, width: 0, height: 0 }; }
	const rect = el.getBoundingClientRect();
	return {
		ok: true,
		x: rect.left + window.scrollX,
		y: rect.top + window.scrollY,
		width: rect.width,
		height: rect.height
	};
})()`

// facebookClipJS computes a tight clip around the meaningful parts of a
// Facebook post: the message, media, links and the engagement row. Falls
// back to the container's own box when nothing qualifies.
const facebookClipJS = `(() => {
	const el = document.querySelector('[data-postshot-target]');
	if (!el) { return { ok: false, x: 0, y: 0, width: 0, height: 0 }; }

	const selectors = [
		"[data-ad-preview='message']",
		'img',
		'video',
		"a[role='link']",
		"div[aria-label*='讚']",
		"div[aria-label*='留言']",
		"div[aria-label*='comment']",
		"div[aria-label*='like']",
		"div[role='button']"
	];

	const nodes = [];
	for (const selector of selectors) {
		nodes.push(...el.querySelectorAll(selector));
	}

	const rects = [];
	for (const node of nodes) {
		const rect = node.getBoundingClientRect();
		if (rect.width < 20 || rect.height < 10) { continue; }
		rects.push(rect);
	}

	let box;
	if (rects.length === 0) {
		const fallback = el.getBoundingClientRect();
		box = { x: fallback.left, y: fallback.top, width: fallback.width, height: fallback.height };
	} else {
		const minX = Math.min(...rects.map((rect) => rect.left));
		const minY = Math.min(...rects.map((rect) => rect.top));
		const maxX = Math.max(...rects.map((rect) => rect.right));
		const maxY = Math.max(...rects.map((rect) => rect.bottom));
		box = { x: minX - 6, y: minY - 8, width: maxX - minX + 12, height: maxY - minY + 14 };
	}

	return {
		ok: true,
		x: box.x + window.scrollX,
		y: box.y + window.scrollY,
		width: box.width,
		height: box.height
	};
})()`

// dismissFacebookTopBarsJS removes the fixed login banners Facebook pins to
// the top of anonymous sessions.
const dismissFacebookTopBarsJS = `(() => {
	const nodes = Array.from(document.querySelectorAll('div, header, section'));
	for (const node of nodes) {
		const style = window.getComputedStyle(node);
		if (style.position !== 'fixed' && style.position !== 'sticky') { continue; }

		const rect = node.getBoundingClientRect();
		if (rect.top > 140 || rect.height > 240 || rect.width < window.innerWidth * 0.5) { continue; }

		const text = (node.textContent || '').toLowerCase();
		const likelyTopOverlay =
			text.includes('facebook') ||
			text.includes('登入') ||
			text.includes('log in') ||
			text.includes('的貼文') ||
			text.includes('close') ||
			text.includes('關閉');

		if (!likelyTopOverlay && rect.top > 60) { continue; }

		node.remove();
	}
	return true;
})()`

// dismissInstagramLoginPromptJS removes Instagram's signup dialogs and the
// fixed blockers they leave behind, then restores page scrolling.
const dismissInstagramLoginPromptJS = `(() => {
	const dialogs = Array.from(document.querySelectorAll("[role='dialog']"));
	for (const dialog of dialogs) {
		const text = (dialog.textContent || '').toLowerCase();
		if (
			text.includes('sign up for instagram') ||
			text.includes('log in') ||
			text.includes('continue with instagram')
		) {
			dialog.remove();
		}
	}

	const blockers = Array.from(document.querySelectorAll('div'));
	for (const node of blockers) {
		const style = window.getComputedStyle(node);
		if (style.position !== 'fixed') { continue; }

		const text = (node.textContent || '').toLowerCase();
		if (
			text.includes('sign up') ||
			text.includes('log in') ||
			text.includes('continue with instagram')
		) {
			node.remove();
		}
	}

	document.documentElement.style.overflow = 'auto';
	document.body.style.overflow = 'auto';
	return true;
})()`

// dismissInstagramMaskLayerJS strips the full-screen dark overlay Instagram
// renders underneath its login dialog.
const dismissInstagramMaskLayerJS = `(() => {
	const nodes = Array.from(document.querySelectorAll('div'));
	for (const node of nodes) {
		const style = window.getComputedStyle(node);
		if (style.position !== 'fixed') { continue; }

		const rect = node.getBoundingClientRect();
		const fullScreen = rect.width >= window.innerWidth * 0.95 && rect.height >= window.innerHeight * 0.95;
		if (!fullScreen) { continue; }

		const bg = style.backgroundColor || '';
		const hasDarkOverlay = bg.includes('rgba') || bg.includes('rgb(0');
		if (!hasDarkOverlay) { continue; }

		const text = (node.textContent || '').toLowerCase();
		if (text.includes('sign up') || text.includes('log in') || text.length < 60) {
			node.remove();
		}
	}
	return true;
})()`

// dismissBottomConsentOverlaysJS removes cookie and consent banners stuck to
// the bottom of the viewport.
const dismissBottomConsentOverlaysJS = `(() => {
	const nodes = Array.from(document.querySelectorAll('div, section, aside'));
	for (const node of nodes) {
		const style = window.getComputedStyle(node);
		if (style.position !== 'fixed' && style.position !== 'sticky') { continue; }

		const rect = node.getBoundingClientRect();
		if (rect.bottom < window.innerHeight * 0.85) { continue; }

		const text = (node.textContent || '').toLowerCase();
		if (
			text.includes('by continuing') ||
			text.includes('terms of use') ||
			text.includes('privacy policy') ||
			text.includes('cookies policy') ||
			text.includes('log in to see more')
		) {
			node.remove();
		}
	}
	return true;
})()`

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
